package protocol

// ValidateKey checks that key fits the text protocol: 1 to 250 bytes, no
// whitespace and no control characters.
func ValidateKey(key string) error {
	if len(key) < MinKeyLength {
		return &InvalidKeyError{Message: "key is empty"}
	}

	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Message: "key exceeds maximum length of 250 bytes"}
	}

	for i := 0; i < len(key); i++ {
		if b := key[i]; b <= ' ' || b == 0x7f {
			return &InvalidKeyError{Message: "key contains whitespace or control characters"}
		}
	}

	return nil
}

// IsValidKey is ValidateKey as a predicate.
func IsValidKey(key string) bool {
	return ValidateKey(key) == nil
}
