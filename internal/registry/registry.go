// Package registry walks the modbus_tcp/ and modbus_rtu_over_tcp/
// directory trees at startup and produces the flat device set consumed by
// the scheduler and the MQTT bridge. Loading is eager and one-shot:
// devices and tags are immutable for the life of the process.
package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"modbus-mqtt-gateway/internal/device"
	"modbus-mqtt-gateway/internal/model"
)

// Roots is the pair of configured root directories.
type Roots struct {
	TCPRoot         string
	RTUOverTCPRoot  string
}

// Load walks both roots and returns the flat device set. Any malformed
// config file aborts loading: this is a fatal startup error, not a
// recoverable one.
func Load(roots Roots, logger *zap.Logger) ([]*device.Device, error) {
	var devices []*device.Device

	if roots.TCPRoot != "" {
		tcpDevices, err := loadTCPRoot(roots.TCPRoot, logger)
		if err != nil {
			return nil, fmt.Errorf("registry: loading %s: %w", roots.TCPRoot, err)
		}
		devices = append(devices, tcpDevices...)
	}

	if roots.RTUOverTCPRoot != "" {
		rtuDevices, err := loadRTUOverTCPRoot(roots.RTUOverTCPRoot, logger)
		if err != nil {
			return nil, fmt.Errorf("registry: loading %s: %w", roots.RTUOverTCPRoot, err)
		}
		devices = append(devices, rtuDevices...)
	}

	logger.Info("registry loaded devices", zap.Int("count", len(devices)))
	return devices, nil
}

func loadTCPRoot(root string, logger *zap.Logger) ([]*device.Device, error) {
	var devices []*device.Device

	entries, err := subdirs(root)
	if err != nil {
		return nil, err
	}

	for _, deviceDir := range entries {
		conn, err := readConnection(filepath.Join(deviceDir, "connection.ini"))
		if err != nil {
			return nil, err
		}

		tags, err := readTags(filepath.Join(deviceDir, "publishers.ini"))
		if err != nil {
			return nil, err
		}

		for _, tag := range tags {
			d := device.NewModbusTCP(device.Connection{
				Name:     conn.name,
				IP:       conn.ip,
				Port:     conn.port,
				Slave:    conn.slave,
				ReadFreq: conn.readFreq,
			}, tag, logger)
			devices = append(devices, d)
		}
	}

	return devices, nil
}

func loadRTUOverTCPRoot(root string, logger *zap.Logger) ([]*device.Device, error) {
	var devices []*device.Device

	gatewayDirs, err := subdirs(root)
	if err != nil {
		return nil, err
	}

	for _, gwDir := range gatewayDirs {
		gwConn, err := readConnection(filepath.Join(gwDir, "connection.ini"))
		if err != nil {
			return nil, err
		}
		gw := device.NewGateway(gwConn.name, gwConn.ip, gwConn.port, logger)

		deviceDirs, err := subdirs(gwDir)
		if err != nil {
			return nil, err
		}

		for _, deviceDir := range deviceDirs {
			conn, err := readConnection(filepath.Join(deviceDir, "connection.ini"))
			if err != nil {
				return nil, err
			}

			tags, err := readTags(filepath.Join(deviceDir, "publishers.ini"))
			if err != nil {
				return nil, err
			}

			for _, tag := range tags {
				d := device.NewModbusRTUOverTCP(gw, device.Connection{
					Name:     conn.name,
					Slave:    conn.slave,
					ReadFreq: conn.readFreq,
				}, tag, logger)
				devices = append(devices, d)
			}
		}
	}

	return devices, nil
}

// subdirs returns the immediate subdirectories of path, sorted by name for
// deterministic load order.
func subdirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(path, e.Name()))
		}
	}
	return dirs, nil
}

// connectionFields is the union of fields that may appear in a
// connection.ini section: a gateway section carries ip+port, a device
// section carries slave+read_freq, and a plain TCP device carries all
// four in a single section.
type connectionFields struct {
	name     string
	ip       string
	port     int
	slave    byte
	readFreq model.ReadFrequency
}

func readConnection(path string) (connectionFields, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return connectionFields{}, fmt.Errorf("loading %s: %w", path, err)
	}

	sections := cfg.Sections()
	for _, s := range sections {
		if s.Name() == ini.DefaultSection {
			continue
		}
		return parseConnectionSection(s)
	}
	return connectionFields{}, fmt.Errorf("%s: no connection section found", path)
}

func parseConnectionSection(s *ini.Section) (connectionFields, error) {
	fields := connectionFields{name: s.Name()}

	if key, err := s.GetKey("ip"); err == nil {
		fields.ip = key.String()
	}
	if key, err := s.GetKey("port"); err == nil {
		port, err := key.Int()
		if err != nil {
			return connectionFields{}, fmt.Errorf("section %s: invalid port: %w", s.Name(), err)
		}
		fields.port = port
	}
	if key, err := s.GetKey("slave"); err == nil {
		slave, err := key.Int()
		if err != nil {
			return connectionFields{}, fmt.Errorf("section %s: invalid slave: %w", s.Name(), err)
		}
		fields.slave = byte(slave)
	}
	if key, err := s.GetKey("read_freq"); err == nil {
		freq, err := model.ParseReadFrequency(key.String())
		if err != nil {
			return connectionFields{}, fmt.Errorf("section %s: %w", s.Name(), err)
		}
		fields.readFreq = freq
	}

	return fields, nil
}

func readTags(path string) ([]model.Tag, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	var tags []model.Tag
	for _, s := range cfg.Sections() {
		if s.Name() == ini.DefaultSection {
			continue
		}
		tag, err := parseTagSection(s)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func parseTagSection(s *ini.Section) (model.Tag, error) {
	address, err := s.Key("address").Int()
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: invalid address: %w", s.Name(), err)
	}
	length, err := s.Key("length").Int()
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: invalid length: %w", s.Name(), err)
	}
	if length < 1 || length > 2 {
		return model.Tag{}, fmt.Errorf("tag %s: length must be 1 or 2, got %d", s.Name(), length)
	}

	function, err := model.ParseFunctionCode(s.Key("command").String())
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: %w", s.Name(), err)
	}
	swap, err := model.ParseEndianness(s.Key("swap").String())
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: %w", s.Name(), err)
	}
	dataType, err := model.ParseDataType(s.Key("data_type").String())
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: %w", s.Name(), err)
	}
	mode, err := model.ParseMode(s.Key("mode").String())
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: %w", s.Name(), err)
	}
	multiplier, err := s.Key("multiplier").Float64()
	if err != nil {
		return model.Tag{}, fmt.Errorf("tag %s: invalid multiplier: %w", s.Name(), err)
	}
	if multiplier == 0 {
		return model.Tag{}, fmt.Errorf("tag %s: multiplier must be nonzero", s.Name())
	}

	return model.Tag{
		Name:       s.Name(),
		Address:    uint16(address),
		Length:     uint16(length),
		Function:   function,
		Swap:       swap,
		DataType:   dataType,
		Multiplier: float32(multiplier),
		Mode:       mode,
	}, nil
}
