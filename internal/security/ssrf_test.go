package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
)

func TestIsPrivateIP(t *testing.T) {
	private := []string{
		"127.0.0.1",
		"10.0.0.1",
		"172.16.5.5",
		"192.168.1.1",
		"169.254.169.254",
		"::1",
		"fc00::1",
		"fe80::1",
	}
	for _, s := range private {
		assert.True(t, IsPrivateIP(net.ParseIP(s)), "%s should be private", s)
	}

	public := []string{"8.8.8.8", "93.184.216.34", "2606:4700::1111"}
	for _, s := range public {
		assert.False(t, IsPrivateIP(net.ParseIP(s)), "%s should be public", s)
	}
}

func TestValidateURLBlocksPrivateLiterals(t *testing.T) {
	for _, u := range []string{
		"http://127.0.0.1/",
		"http://10.1.2.3:8080/x",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
	} {
		err := ValidateURL(u)
		require.ErrorIs(t, err, domain.ErrSSRFBlocked, "url %s", u)
	}
}

func TestValidateURLRejectsBadSchemes(t *testing.T) {
	for _, u := range []string{
		"file:///etc/passwd",
		"ftp://example.com/",
		"gopher://example.com/",
	} {
		require.Error(t, ValidateURL(u), "url %s", u)
	}
}
