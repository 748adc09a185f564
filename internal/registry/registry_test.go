package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/model"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadTCPRootProducesOneDevicePerTag(t *testing.T) {
	root := t.TempDir()
	devDir := filepath.Join(root, "boiler-1")

	writeFile(t, filepath.Join(devDir, "connection.ini"), "[boiler-1]\nip=10.0.0.5\nport=502\nslave=1\nread_freq=30 s\n")
	writeFile(t, filepath.Join(devDir, "publishers.ini"), ""+
		"[temp]\naddress=10\nlength=2\ncommand=Holding\nswap=BigEndian\ndata_type=Integer\nmode=Read\nmultiplier=0.1\n\n"+
		"[setpoint]\naddress=20\nlength=1\ncommand=Holding\nswap=BigEndian\ndata_type=Integer\nmode=Write\nmultiplier=1.0\n")

	devices, err := Load(Roots{TCPRoot: root}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	names := map[string]bool{}
	for _, d := range devices {
		names[d.TagName()] = true
		assert.Equal(t, "boiler-1", d.DeviceName())
	}
	assert.True(t, names["temp"])
	assert.True(t, names["setpoint"])
}

func TestLoadRTUOverTCPRootLoadsEveryDeviceUnderGateway(t *testing.T) {
	root := t.TempDir()
	gwDir := filepath.Join(root, "gw-east")
	writeFile(t, filepath.Join(gwDir, "connection.ini"), "[gw-east]\nip=10.0.0.1\nport=8899\n")

	dev1 := filepath.Join(gwDir, "pump-1")
	writeFile(t, filepath.Join(dev1, "connection.ini"), "[pump-1]\nslave=1\nread_freq=5 s\n")
	writeFile(t, filepath.Join(dev1, "publishers.ini"), "[flow]\naddress=0\nlength=1\ncommand=Input\nswap=BigEndian\ndata_type=Integer\nmode=Read\nmultiplier=1.0\n")

	dev2 := filepath.Join(gwDir, "pump-2")
	writeFile(t, filepath.Join(dev2, "connection.ini"), "[pump-2]\nslave=2\nread_freq=5 s\n")
	writeFile(t, filepath.Join(dev2, "publishers.ini"), "[flow]\naddress=0\nlength=1\ncommand=Input\nswap=BigEndian\ndata_type=Integer\nmode=Read\nmultiplier=1.0\n")

	devices, err := Load(Roots{RTUOverTCPRoot: root}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestLoadRejectsOversizeLength(t *testing.T) {
	root := t.TempDir()
	devDir := filepath.Join(root, "bad")
	writeFile(t, filepath.Join(devDir, "connection.ini"), "[bad]\nip=10.0.0.5\nport=502\nslave=1\nread_freq=30 s\n")
	writeFile(t, filepath.Join(devDir, "publishers.ini"), "[x]\naddress=0\nlength=3\ncommand=Holding\nswap=BigEndian\ndata_type=Integer\nmode=Read\nmultiplier=1.0\n")

	_, err := Load(Roots{TCPRoot: root}, zap.NewNop())
	assert.Error(t, err)
}

func TestParseReadFrequency(t *testing.T) {
	freq, err := model.ParseReadFrequency("30 s")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), freq.N)

	_, err = model.ParseReadFrequency("garbage")
	assert.Error(t, err)
}
