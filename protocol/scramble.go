package protocol

import "crypto/sha1"

// ScramblePassword computes the mysql_native_password response:
// SHA1(password) XOR SHA1(seed || SHA1(SHA1(password))).
// Grounded on the classic native-password handshake math; an empty
// password scrambles to an empty response rather than a 20-byte digest,
// matching how the server treats a blank-password account.
func ScramblePassword(password string, seed []byte) []byte {
	if password == "" {
		return nil
	}

	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(seed)
	h.Write(stage2[:])
	stage3 := h.Sum(nil)

	out := make([]byte, len(stage1))
	for i := range out {
		out[i] = stage1[i] ^ stage3[i]
	}
	return out
}
