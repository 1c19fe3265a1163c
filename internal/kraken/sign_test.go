package kraken

import "testing"

// Test vector from the exchange API documentation
const (
	docSecret   = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	docPath     = "/0/private/AddOrder"
	docNonce    = "1616492376594"
	docPostData = "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	docSign     = "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
)

// TestSignRequestKnownVector tests the signature against the documented
// reference value
func TestSignRequestKnownVector(t *testing.T) {
	sig, err := signRequest(docSecret, docPath, docNonce, docPostData)
	if err != nil {
		t.Fatalf("signRequest failed: %v", err)
	}
	if sig != docSign {
		t.Errorf("Signature mismatch:\n got  %s\n want %s", sig, docSign)
	}
}

// TestSignRequestInvalidSecret tests rejection of a non-base64 secret
func TestSignRequestInvalidSecret(t *testing.T) {
	if _, err := signRequest("not!!base64", docPath, docNonce, docPostData); err == nil {
		t.Error("Invalid base64 secret should fail")
	}
}

// TestSignRequestNonceSensitive tests that a different nonce changes the
// signature
func TestSignRequestNonceSensitive(t *testing.T) {
	sig, err := signRequest(docSecret, docPath, "1616492376595", docPostData)
	if err != nil {
		t.Fatalf("signRequest failed: %v", err)
	}
	if sig == docSign {
		t.Error("Different nonce should produce a different signature")
	}
}

// TestAuthHeaders tests header assembly
func TestAuthHeaders(t *testing.T) {
	headers, err := authHeaders("my-api-key", docSecret, docPath, docNonce, docPostData)
	if err != nil {
		t.Fatalf("authHeaders failed: %v", err)
	}
	if headers["API-Key"] != "my-api-key" {
		t.Errorf("Unexpected API-Key header: %s", headers["API-Key"])
	}
	if headers["API-Sign"] != docSign {
		t.Errorf("Unexpected API-Sign header: %s", headers["API-Sign"])
	}
}
