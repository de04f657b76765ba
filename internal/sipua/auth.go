package sipua

import (
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// challengeHeaders maps a 401/407 status to the challenge header we read
// and the credential header we answer with.
func challengeHeaders(statusCode int) (challengeName, credentialName string) {
	if statusCode == 407 {
		return "Proxy-Authenticate", "Proxy-Authorization"
	}
	return "WWW-Authenticate", "Authorization"
}

// answerChallenge computes digest credentials for a challenge header
// value, returning the credential header value to attach to the retried
// request.
func answerChallenge(challengeVal, method, uri, username, password string) (string, error) {
	challenge, err := digest.ParseChallenge(challengeVal)
	if err != nil {
		return "", fmt.Errorf("invalid challenge %q: %w", challengeVal, err)
	}

	cred, err := digest.Digest(challenge, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", err
	}
	return cred.String(), nil
}

// extractChallenge pulls the challenge header for the given failure
// response, or errors when the server sent none.
func extractChallenge(resp *sip.Response) (challengeVal, credentialName string, err error) {
	challengeName, credentialName := challengeHeaders(int(resp.StatusCode))
	h := resp.GetHeader(challengeName)
	if h == nil {
		return "", "", fmt.Errorf("no %s header in %d response", challengeName, resp.StatusCode)
	}
	return h.Value(), credentialName, nil
}
