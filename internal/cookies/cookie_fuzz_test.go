package cookies

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	json "github.com/json-iterator/go"
)

// FuzzValidate checks that arbitrary cookie sets never panic the validator, that the
// array and JSON paths agree, and that accepted cookies never leak values when sanitized.
func FuzzValidate(f *testing.F) {
	f.Add([]byte("seed"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var cookies []Cookie
		if err := consumer.GenerateStruct(&cookies); err != nil {
			return
		}

		fromArray, errArray := Validate(cookies)

		raw, err := json.Marshal(cookies)
		if err != nil || len(raw) > MaxPayloadBytes {
			return
		}
		_, errString := Validate(string(raw))
		if (errArray == nil) != (errString == nil) {
			t.Fatalf("array and JSON validation disagree: array=%v string=%v", errArray, errString)
		}
		if errArray != nil {
			return
		}

		encoded, err := json.Marshal(SanitizeForLogging(fromArray))
		if err != nil {
			t.Fatalf("marshal sanitized: %v", err)
		}
		for _, c := range fromArray {
			// Short values can collide with names or flags; only long ones are meaningful here.
			if len(c.Value) >= 16 && strings.Contains(string(encoded), c.Value) {
				t.Fatalf("sanitized output leaked a cookie value")
			}
		}
	})
}
