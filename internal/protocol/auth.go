package protocol

import "strings"

// TokenProtocol is the subprotocol name the server selects during the
// handshake. The secret follows it in the client's protocol list.
const TokenProtocol = "token"

// ClientProtocols returns the Sec-WebSocket-Protocol values a client offers.
func ClientProtocols(secret string) []string {
	return []string{TokenProtocol, secret}
}

// CredentialFromProtocols extracts the secret from an offered protocol list.
// It accepts both ["token", "<secret>"] and a single "token,<secret>" entry.
func CredentialFromProtocols(protocols []string) (string, bool) {
	for i, p := range protocols {
		p = strings.TrimSpace(p)
		if rest, ok := strings.CutPrefix(p, TokenProtocol+","); ok {
			return strings.TrimSpace(rest), true
		}
		if p == TokenProtocol && i+1 < len(protocols) {
			return strings.TrimSpace(protocols[i+1]), true
		}
	}
	return "", false
}

// Namespace derives the namespace from a request path ("/testroom" -> "testroom").
func Namespace(path string) string {
	return strings.Trim(path, "/")
}
