package comparator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// signURL appends the host, date and authorization query parameters the
// iFlytek gateway expects. The signature covers the host, the date and the
// request line.
func signURL(rawURL, method, apiKey, apiSecret string, now time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" || u.Path == "" {
		return "", fmt.Errorf("invalid request url: %q", rawURL)
	}

	date := now.UTC().Format(http.TimeFormat)
	origin := fmt.Sprintf("host: %s\ndate: %s\n%s %s HTTP/1.1", u.Host, date, method, u.Path)

	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	auth := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="%s", signature="%s"`,
		apiKey, "hmac-sha256", "host date request-line", signature)

	q := url.Values{}
	q.Set("host", u.Host)
	q.Set("date", date)
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(auth)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
