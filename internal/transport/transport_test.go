package transport

import "testing"

func TestClassifyByStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status StatusCode
		reason string
		want   CloseClass
	}{
		{name: "conflict status", status: StatusConflict, want: CloseConflict},
		{name: "unauthorized status", status: StatusUnauthorized, want: CloseUnauthorized},
		{name: "timeout status", status: StatusTimeout, want: CloseTimeout},
		{name: "unknown status no reason", status: StatusUnknown, want: CloseOther},
		{name: "conflict by reason text", status: StatusUnknown, reason: "Stream Errored (conflict)", want: CloseConflict},
		{name: "logged out by reason text", status: StatusUnknown, reason: "Connection was logged out", want: CloseUnauthorized},
		{name: "timeout by reason text", status: StatusUnknown, reason: "QR refs attempts ended, timed out", want: CloseTimeout},
		{name: "status wins over reason", status: StatusConflict, reason: "timed out", want: CloseConflict},
		{name: "unrelated reason", status: StatusUnknown, reason: "socket hang up", want: CloseOther},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.status, tc.reason); got != tc.want {
				t.Fatalf("Classify(%d, %q)=%v want=%v", tc.status, tc.reason, got, tc.want)
			}
		})
	}
}

func TestCloseClassString(t *testing.T) {
	t.Parallel()

	cases := map[CloseClass]string{
		CloseConflict:     "conflict",
		CloseUnauthorized: "unauthorized",
		CloseTimeout:      "timeout",
		CloseOther:        "other",
	}
	for class, want := range cases {
		if got := class.String(); got != want {
			t.Fatalf("String(%d)=%q want=%q", class, got, want)
		}
	}
}
