package cli

import "testing"

func TestLeaderHintAddr(t *testing.T) {
    cases := []struct {
        hint string
        want string
    }{
        {"", ""},
        {"10.0.0.2:7420|2", "10.0.0.2:7420"},
        {"10.0.0.2:7420", "10.0.0.2:7420"},
    }
    for _, tc := range cases {
        if got := leaderHintAddr(tc.hint); got != tc.want {
            t.Errorf("leaderHintAddr(%q) = %q, want %q", tc.hint, got, tc.want)
        }
    }
}
