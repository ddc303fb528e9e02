// Package kms drives the display through DRM/KMS: it finds a connected
// output, lists its modes and points a CRTC at rendered buffers.
package kms

import (
	"errors"
	"fmt"
	"os"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/mode"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"kmsplay/pkg/present"
	"kmsplay/pkg/surface"
)

var (
	// ErrNoDevice is returned when no probed device has a connected output.
	ErrNoDevice = errors.New("no usable DRM device")

	// ErrNoCrtc is returned when the connector cannot be routed to a CRTC.
	ErrNoCrtc = errors.New("no CRTC for connector")
)

// DefaultDevices is the probe order when no device is configured.
var DefaultDevices = []string{
	"/dev/dri/card1",
	"/dev/dri/card0",
	"/dev/dri/renderD128",
	"/dev/dri/renderD129",
}

// Device is an opened DRM card with one connected output.
type Device struct {
	file      *os.File
	path      string
	connector *mode.Connector
	crtcID    uint32
	saved     *mode.Crtc
	fbID      uint32
}

// Open opens path, or probes DefaultDevices when path is empty, and picks the
// first connected connector that advertises modes.
func Open(path string) (*Device, error) {
	candidates := DefaultDevices
	if path != "" {
		candidates = []string{path}
	}

	var errs []error
	for _, p := range candidates {
		d, err := openDevice(p)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Open",
				"device":   p,
				"error":    err.Error(),
			}).Debug("Skipping DRM device")
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoDevice, errors.Join(errs...))
}

func openDevice(path string) (*Device, error) {
	file, err := openCard(path)
	if err != nil {
		return nil, err
	}

	d, err := setup(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

// openCard uses the library's card opener for /dev/dri/cardN paths.
func openCard(path string) (*os.File, error) {
	var n int
	if _, err := fmt.Sscanf(path, "/dev/dri/card%d", &n); err == nil {
		return drm.OpenCard(n)
	}
	return os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
}

func setup(file *os.File, path string) (*Device, error) {
	res, err := mode.GetResources(file)
	if err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}

	for _, id := range res.Connectors {
		conn, err := mode.GetConnector(file, id)
		if err != nil {
			continue
		}
		if conn.Connection != mode.Connected || len(conn.Modes) == 0 {
			continue
		}

		crtcID, err := findCrtc(file, res, conn)
		if err != nil {
			return nil, err
		}
		saved, err := mode.GetCrtc(file, crtcID)
		if err != nil {
			saved = nil
		}

		logrus.WithFields(logrus.Fields{
			"function":  "Open",
			"device":    path,
			"connector": ConnectorName(conn.Type, conn.TypeID),
			"modes":     len(conn.Modes),
			"crtc":      crtcID,
		}).Info("Display connected")

		return &Device{
			file:      file,
			path:      path,
			connector: conn,
			crtcID:    crtcID,
			saved:     saved,
		}, nil
	}
	return nil, errors.New("no connected connector")
}

// findCrtc prefers the CRTC already driving the connector, then any CRTC one
// of its encoders can reach.
func findCrtc(file *os.File, res *mode.Resources, conn *mode.Connector) (uint32, error) {
	if conn.EncoderID != 0 {
		if enc, err := mode.GetEncoder(file, conn.EncoderID); err == nil {
			if id, ok := pickCrtc(enc.CrtcID, enc.PossibleCrtcs, res.Crtcs); ok {
				return id, nil
			}
		}
	}
	for _, encID := range conn.Encoders {
		enc, err := mode.GetEncoder(file, encID)
		if err != nil {
			continue
		}
		if id, ok := pickCrtc(enc.CrtcID, enc.PossibleCrtcs, res.Crtcs); ok {
			return id, nil
		}
	}
	return 0, ErrNoCrtc
}

// pickCrtc returns current when set, else the first CRTC in the possible
// bitmask.
func pickCrtc(current, possible uint32, crtcs []uint32) (uint32, bool) {
	if current != 0 {
		return current, true
	}
	for i, id := range crtcs {
		if i < 32 && possible&(1<<uint(i)) != 0 {
			return id, true
		}
	}
	return 0, false
}

// Fd is the card descriptor, shared with the buffer allocator.
func (d *Device) Fd() int {
	return int(d.file.Fd())
}

func (d *Device) Path() string {
	return d.path
}

// Modes lists the connector's modes in the order the connector reports them.
func (d *Device) Modes() ([]surface.Mode, error) {
	return toModes(d.connector.Modes), nil
}

// Bind creates a framebuffer for b and sets the CRTC to scan it out at m.
func (d *Device) Bind(b present.Buffer, m surface.Mode) error {
	info, ok := m.Native.(mode.Info)
	if !ok {
		return fmt.Errorf("mode %s did not come from this device", m)
	}

	fbID, err := mode.AddFB(d.file, uint16(b.Width), uint16(b.Height),
		uint8(b.Format.Depth()), uint8(b.Format.BitsPerPixel()), b.Pitch, b.Handle)
	if err != nil {
		return fmt.Errorf("add framebuffer: %w", err)
	}

	connID := d.connector.ID
	if err := mode.SetCrtc(d.file, d.crtcID, fbID, 0, 0, &connID, 1, &info); err != nil {
		_ = mode.RmFB(d.file, fbID)
		return fmt.Errorf("set crtc %d: %w", d.crtcID, err)
	}

	if d.fbID != 0 {
		_ = mode.RmFB(d.file, d.fbID)
	}
	d.fbID = fbID

	logrus.WithFields(logrus.Fields{
		"function": "Device.Bind",
		"crtc":     d.crtcID,
		"fb":       fbID,
		"mode":     m.String(),
	}).Debug("CRTC programmed")
	return nil
}

// Close restores the CRTC to what it showed before Open and closes the card.
func (d *Device) Close() error {
	if d.saved != nil && d.fbID != 0 {
		connID := d.connector.ID
		if err := mode.SetCrtc(d.file, d.saved.ID, d.saved.BufferID, d.saved.X, d.saved.Y, &connID, 1, &d.saved.Mode); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Device.Close",
				"crtc":     d.saved.ID,
				"error":    err.Error(),
			}).Warn("Failed to restore CRTC")
		}
	}
	if d.fbID != 0 {
		_ = mode.RmFB(d.file, d.fbID)
		d.fbID = 0
	}
	return d.file.Close()
}

func toModes(infos []mode.Info) []surface.Mode {
	modes := make([]surface.Mode, 0, len(infos))
	for _, info := range infos {
		modes = append(modes, surface.Mode{
			Width:     int(info.Hdisplay),
			Height:    int(info.Vdisplay),
			Refresh:   int(info.Vrefresh),
			Preferred: surface.IsPreferred(info.Type),
			Name:      fmt.Sprintf("%dx%d@%d", info.Hdisplay, info.Vdisplay, info.Vrefresh),
			Native:    info,
		})
	}
	return modes
}

// connectorTypes are indexed by DRM_MODE_CONNECTOR_*.
var connectorTypes = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "S-Video",
	"LVDS", "Component", "DIN", "DisplayPort", "HDMI-A", "HDMI-B", "TV",
	"eDP", "Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

// ConnectorName renders a connector the way the kernel names it, e.g.
// HDMI-A-1.
func ConnectorName(typ, typeID uint32) string {
	name := "Unknown"
	if int(typ) < len(connectorTypes) {
		name = connectorTypes[typ]
	}
	if typeID == 0 {
		return name
	}
	return fmt.Sprintf("%s-%d", name, typeID)
}
