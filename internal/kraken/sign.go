package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
)

// signRequest computes the API-Sign header value for a private endpoint:
// base64(HMAC-SHA512(path + SHA256(nonce + postData), base64decode(secret))).
func signRequest(apiSecret, apiPath, nonce, postData string) (string, error) {
	decodedSecret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return "", fmt.Errorf("failed to decode API secret: %w", err)
	}

	shaSum := sha256.Sum256([]byte(nonce + postData))
	message := append([]byte(apiPath), shaSum[:]...)

	mac := hmac.New(sha512.New, decodedSecret)
	mac.Write(message)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// authHeaders builds the API-Key and API-Sign headers for a private endpoint
func authHeaders(apiKey, apiSecret, apiPath, nonce, postData string) (map[string]string, error) {
	signature, err := signRequest(apiSecret, apiPath, nonce, postData)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"API-Key":  apiKey,
		"API-Sign": signature,
	}, nil
}
