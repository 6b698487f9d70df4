package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sakif/replaybox/internal/apperror"
)

// Limits bounds the size of a request before any isolate is created.
// Zero means unlimited.
type Limits struct {
	MaxCodeBytes int
	MaxInputs    int
}

// Validate rejects malformed requests with an apperror.ValidationFailed
// error. It never touches a sandbox, so a rejected request costs nothing.
//
// Rules:
//   - code must contain something other than whitespace
//   - every input must be a string, number or boolean (null, arrays and
//     objects are composite or absent values and are refused)
func Validate(req ExecutionRequest, limits Limits) error {
	if strings.TrimSpace(req.Code) == "" {
		return apperror.ValidationFailed("code", "code cannot be empty")
	}
	if limits.MaxCodeBytes > 0 && len(req.Code) > limits.MaxCodeBytes {
		return apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d bytes or less", limits.MaxCodeBytes))
	}
	if limits.MaxInputs > 0 && len(req.Inputs) > limits.MaxInputs {
		return apperror.ValidationFailed("inputs",
			fmt.Sprintf("at most %d inputs may be supplied", limits.MaxInputs))
	}

	for i, v := range req.Inputs {
		if !IsPrimitive(v) {
			return apperror.ValidationFailed(fmt.Sprintf("inputs[%d]", i),
				fmt.Sprintf("inputs[%d] must be a string, number or boolean", i))
		}
	}
	return nil
}

// IsPrimitive reports whether v is one of the value types a script may
// receive as input.
func IsPrimitive(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}
