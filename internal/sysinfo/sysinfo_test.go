package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	psnet "github.com/shirou/gopsutil/v3/net"
)

func TestStatusRank(t *testing.T) {
	assert.Equal(t, 0, statusRank("ESTABLISHED"))
	assert.Equal(t, 0, statusRank("established"))
	assert.Equal(t, 1, statusRank("LISTEN"))
	assert.Equal(t, 2, statusRank("TIME_WAIT"))
	assert.Equal(t, 2, statusRank(""))
}

func TestEndpoint(t *testing.T) {
	assert.Nil(t, endpoint(psnet.Addr{}))

	ep := endpoint(psnet.Addr{IP: "127.0.0.1", Port: 5000})
	require.NotNil(t, ep)
	assert.Equal(t, "127.0.0.1", ep.IP)
	assert.Equal(t, uint32(5000), ep.Port)

	// a bound-any listener has a port but no address text
	ep = endpoint(psnet.Addr{IP: "", Port: 80})
	require.NotNil(t, ep)
	assert.Empty(t, ep.IP)
}

func TestRemoteIP(t *testing.T) {
	assert.Empty(t, remoteIP(Connection{}))
	assert.Equal(t, "1.2.3.4", remoteIP(Connection{Raddr: &Endpoint{IP: "1.2.3.4", Port: 443}}))
}

func TestCollect(t *testing.T) {
	info, err := Collect()
	require.NoError(t, err)
	assert.NotEmpty(t, info.Platform)
	assert.NotNil(t, info.Interfaces)
	for _, iface := range info.Interfaces {
		assert.NotEmpty(t, iface.Name)
		assert.NotNil(t, iface.IPv4)
		assert.NotNil(t, iface.IPv6)
	}
}

func TestConnectionsClampsLimit(t *testing.T) {
	report, err := Connections(1)
	if err != nil {
		t.Skipf("connection table not readable here: %v", err)
	}
	assert.Equal(t, minConnLimit, report.Summary.Limit)
	assert.LessOrEqual(t, report.Summary.Count, minConnLimit)

	report, err = Connections(999999)
	require.NoError(t, err)
	assert.Equal(t, maxConnLimit, report.Summary.Limit)
}
