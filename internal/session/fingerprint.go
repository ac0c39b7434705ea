package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint identifies a tool call by its name and arguments (spec
// §4.5: "Interrupted records {tool_name, arguments, fingerprint}"). Go's
// encoding/json marshals map keys in sorted order, so two calls with the
// same arguments in a different construction order still hash identically.
func Fingerprint(toolName string, args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte(toolName)
	}
	sum := sha256.Sum256(append([]byte(toolName+"|"), encoded...))
	return hex.EncodeToString(sum[:])
}
