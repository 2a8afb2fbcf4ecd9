package errcode

import (
	"errors"
	"fmt"
	"testing"

	"bt532-go/drivers/bt532"
)

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", Busy, Busy},
		{"wrapped code", fmt.Errorf("ctx: %w", InvalidState), InvalidState},
		{"E", &E{C: NotReady, Op: "calibrate"}, NotReady},
		{"E over inner code", &E{C: FirmwareFailed, Err: Busy}, FirmwareFailed},
		{"driver verify", &bt532.VerifyError{Offset: 3}, VerifyMismatch},
		{"driver transport", &bt532.TransportError{Op: "read", Err: errors.New("nak")}, Transport},
		{"retry around sentinel", &bt532.RetryError{Last: bt532.ErrCalibrationTimeout}, CalibrationTimeout},
		{"unknown", errors.New("x"), Error},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Of(tc.err); got != tc.want {
				t.Fatalf("Of(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(Busy, "op", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
	cause := bt532.ErrNoImage
	err := Wrap(FirmwareFailed, "fw_update", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause lost")
	}
	if got := err.Error(); got != "fw_update: firmware_failed: no_image" {
		t.Fatalf("Error() = %q", got)
	}
}
