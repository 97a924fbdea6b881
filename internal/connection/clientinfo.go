package connection

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownClient = "Unknown"

// ClientFamily returns the browser family of a stored user agent string.
func ClientFamily(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return unknownClient
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "Bot"
	}
	name, _ := ua.Browser()
	if strings.TrimSpace(name) == "" {
		return unknownClient
	}
	return name
}

// ClientInfo is what the transport knows about the connecting client.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}
