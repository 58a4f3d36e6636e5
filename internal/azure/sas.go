package azure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const sasPrefix = "SharedAccessSignature "

// GenerateSASToken generates a Shared Access Signature token for an Azure Relay resource URI.
// key is the base64 shared access key; keys that do not decode are used verbatim.
func GenerateSASToken(uri, keyName, key string, expiry time.Duration) (string, error) {
	if keyName == "" {
		return "", fmt.Errorf("key name is required")
	}
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	// Ensure URI is properly formatted (no trailing slash)
	uri = strings.TrimSuffix(uri, "/")

	expiryTimestamp := time.Now().Add(expiry).Unix()

	// Create the string to sign: <url>\n<expiry>
	stringToSign := fmt.Sprintf("%s\n%d", url.QueryEscape(uri), expiryTimestamp)

	signingKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		signingKey = []byte(key)
	}

	h := hmac.New(sha256.New, signingKey)
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// Format: SharedAccessSignature sr=<url>&sig=<signature>&se=<expiry>&skn=<keyname>
	token := fmt.Sprintf("%ssr=%s&sig=%s&se=%d&skn=%s",
		sasPrefix,
		url.QueryEscape(uri),
		url.QueryEscape(signature),
		expiryTimestamp,
		url.QueryEscape(keyName),
	)

	return token, nil
}

// IsSASToken reports whether token is a Shared Access Signature rather than an Azure AD bearer token
func IsSASToken(token string) bool {
	return strings.HasPrefix(token, sasPrefix)
}

// NamespaceHost expands a bare namespace name to its service bus host
func NamespaceHost(namespace string) string {
	if strings.Contains(namespace, ".") {
		return namespace
	}
	return namespace + ".servicebus.windows.net"
}

// ResourceURI is the audience a token for a hybrid connection must be scoped to
func ResourceURI(namespace, hybridConnection string) string {
	return fmt.Sprintf("https://%s/%s", NamespaceHost(namespace), hybridConnection)
}
