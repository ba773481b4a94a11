package buildinfo

import "testing"

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, version, revision, tags, want string
	}{
		{name: "bare", version: "dev", want: "dev"},
		{name: "revision", version: "v1.2.0", revision: "0123456789ab", want: "v1.2.0 (rev 0123456789ab)"},
		{name: "tags", version: "dev", tags: "netgo", want: "dev (tags: netgo)"},
		{name: "both", version: "dev", revision: "abc-dirty", tags: "netgo", want: "dev (rev abc-dirty, tags: netgo)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := format(tt.version, tt.revision, tt.tags); got != tt.want {
				t.Fatalf("format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVersionNotEmpty(t *testing.T) {
	t.Parallel()

	if Version() == "" {
		t.Fatal("Version() is empty")
	}
}
