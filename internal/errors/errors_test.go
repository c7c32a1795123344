package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestCodeOfWrappedChain(t *testing.T) {
	cause := stderrors.New("cff: too many glyphs")
	err := fmt.Errorf("build font: %w", NewSerializationFailedError("job-1", cause))

	if got := CodeOf(err); got != ErrorSerializationFailed {
		t.Fatalf("CodeOf = %q, want %q", got, ErrorSerializationFailed)
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("serializer cause must stay reachable through Unwrap")
	}
	if got := CodeOf(cause); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestToMap(t *testing.T) {
	tests := []struct {
		name string
		err  *ProcessingError
		want map[string]interface{}
	}{
		{
			name: "timeout",
			err:  NewProcessingTimeoutError("job-2", 3*time.Second, stderrors.New("deadline")),
			want: map[string]interface{}{
				"error_code":       "PROCESSING_TIMEOUT",
				"timeout_duration": "3s",
				"cause":            "deadline",
			},
		},
		{
			name: "degenerate",
			err:  NewDegenerateGeometryError("fragment f1", 0, 12),
			want: map[string]interface{}{
				"error_code": "DEGENERATE_GEOMETRY",
				"width":      0,
				"height":     12,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.err.ToMap()
			for k, v := range tt.want {
				if m[k] != v {
					t.Errorf("%s = %v, want %v", k, m[k], v)
				}
			}
		})
	}
}

func TestWithJob(t *testing.T) {
	err := NewFragmentNotFoundError("abc").WithJob("job-3")
	if err.JobID != "job-3" {
		t.Fatalf("JobID = %q", err.JobID)
	}
	if err.Error() != "FRAGMENT_NOT_FOUND: Fragment not found: abc" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
