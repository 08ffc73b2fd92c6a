package ied

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Validation constants.
const (
	maxNameLength        = 100
	maxDescriptiveLength = 100
	maxLogicalDevices    = 64
	maxLogicalNodes      = 256
	maxDatasets          = 128
	maxPort              = 65535
	maxAppID             = 0xFFFF
)

var (
	// IEC 61850 object names: a letter followed by letters, digits or underscores.
	objectNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

	// Six hex octets separated consistently by ':' or '-'.
	macRegex = regexp.MustCompile(`^[0-9A-Fa-f]{2}([:-])[0-9A-Fa-f]{2}(?:[:-][0-9A-Fa-f]{2}){4}$`)
)

// Pre-computed validation sets for O(1) lookups.
var (
	validAuthModes        map[AuthMode]struct{}
	validDatasetProtocols map[DatasetProtocol]struct{}
)

func init() {
	validAuthModes = make(map[AuthMode]struct{}, len(AllAuthModes()))
	for _, m := range AllAuthModes() {
		validAuthModes[m] = struct{}{}
	}

	validDatasetProtocols = make(map[DatasetProtocol]struct{}, len(AllDatasetProtocols()))
	for _, p := range AllDatasetProtocols() {
		validDatasetProtocols[p] = struct{}{}
	}
}

// ValidateName checks that a device name is present and not too long.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "must not be empty")
	}
	if len(name) > maxNameLength {
		return invalid("name", "exceeds %d characters", maxNameLength)
	}
	return nil
}

// ValidateIP checks a dotted-quad IPv4 address. The empty string means
// "not yet assigned" and is accepted.
func ValidateIP(ip string) error {
	if ip == "" {
		return nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil || strings.Contains(ip, ":") {
		return invalid("ip", "%q is not a dotted-quad IPv4 address", ip)
	}
	return nil
}

func validateDescriptive(field, value string) error {
	if len(value) > maxDescriptiveLength {
		return invalid(field, "exceeds %d characters", maxDescriptiveLength)
	}
	return nil
}

func validateDataPointCount(n int) error {
	if n < 0 {
		return invalid("dataPointCount", "must not be negative")
	}
	return nil
}

// ValidateLogicalDevices checks the hierarchy: logical device names unique
// within the device, node names unique within their logical device, every
// node typed.
func ValidateLogicalDevices(lds []LogicalDevice) error {
	if len(lds) > maxLogicalDevices {
		return invalid("logicalDevices", "exceeds %d entries", maxLogicalDevices)
	}

	seen := make(map[string]struct{}, len(lds))
	for i, ld := range lds {
		field := fmt.Sprintf("logicalDevices[%d].name", i)
		if !objectNameRegex.MatchString(ld.Name) {
			return invalid(field, "%q is not a valid object name", ld.Name)
		}
		if _, dup := seen[ld.Name]; dup {
			return invalid(field, "duplicate logical device %q", ld.Name)
		}
		seen[ld.Name] = struct{}{}

		if err := validateLogicalNodes(i, ld.Nodes); err != nil {
			return err
		}
	}
	return nil
}

func validateLogicalNodes(ldIndex int, nodes []LogicalNode) error {
	if len(nodes) > maxLogicalNodes {
		return invalid(fmt.Sprintf("logicalDevices[%d].nodes", ldIndex), "exceeds %d entries", maxLogicalNodes)
	}

	seen := make(map[string]struct{}, len(nodes))
	for j, n := range nodes {
		prefix := fmt.Sprintf("logicalDevices[%d].nodes[%d]", ldIndex, j)
		if !objectNameRegex.MatchString(n.Name) {
			return invalid(prefix+".name", "%q is not a valid object name", n.Name)
		}
		if _, dup := seen[n.Name]; dup {
			return invalid(prefix+".name", "duplicate logical node %q", n.Name)
		}
		seen[n.Name] = struct{}{}

		if strings.TrimSpace(n.Type) == "" {
			return invalid(prefix+".type", "must not be empty")
		}
	}
	return nil
}

// ValidateProtocolConfig checks GOOSE and MMS parameters.
func ValidateProtocolConfig(pc ProtocolConfig) error {
	if err := ValidateGOOSE(pc.GOOSE); err != nil {
		return err
	}
	return ValidateMMS(pc.MMS)
}

// ValidateGOOSE accepts an unconfigured GOOSE block, or a hex APPID with a
// six-octet MAC address.
func ValidateGOOSE(g GOOSEConfig) error {
	if g.IsZero() {
		return nil
	}
	if err := ValidateAppID(g.AppID); err != nil {
		return err
	}
	return ValidateMAC(g.MACAddress)
}

// ValidateAppID checks a GOOSE APPID such as "0x3001".
func ValidateAppID(appID string) error {
	const field = "protocolConfig.goose.appId"
	hex, ok := strings.CutPrefix(strings.ToLower(appID), "0x")
	if !ok || hex == "" || len(hex) > 4 {
		return invalid(field, "%q must be hex 0x0000-0xFFFF", appID)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || v > maxAppID {
		return invalid(field, "%q must be hex 0x0000-0xFFFF", appID)
	}
	return nil
}

// ValidateMAC checks a MAC address such as "01-0C-CD-01-00-01".
func ValidateMAC(mac string) error {
	const field = "protocolConfig.goose.macAddress"
	m := macRegex.FindStringSubmatch(mac)
	if m == nil || strings.Count(mac, m[1]) != 5 {
		return invalid(field, "%q is not a MAC address", mac)
	}
	return nil
}

// ValidateMMS checks the MMS port range and authentication mode.
func ValidateMMS(m MMSConfig) error {
	if m.Port < 1 || m.Port > maxPort {
		return invalid("protocolConfig.mms.port", "%d is outside 1-65535", m.Port)
	}
	if _, ok := validAuthModes[m.AuthMode]; !ok {
		return invalid("protocolConfig.mms.authMode", "%q is not one of none, password, certificate", m.AuthMode)
	}
	return nil
}

// ValidateDataset checks a single dataset. fieldPrefix locates it in the
// request, e.g. "datasets[2]" or "dataset".
func ValidateDataset(fieldPrefix string, ds Dataset) error {
	if !objectNameRegex.MatchString(ds.Name) {
		return invalid(fieldPrefix+".name", "%q is not a valid dataset name", ds.Name)
	}
	if len(ds.Description) > maxDescriptiveLength {
		return invalid(fieldPrefix+".description", "exceeds %d characters", maxDescriptiveLength)
	}
	if ds.PointCount < 0 {
		return invalid(fieldPrefix+".pointCount", "must not be negative")
	}
	if _, ok := validDatasetProtocols[ds.Protocol]; !ok {
		return invalid(fieldPrefix+".protocol", "%q is not GOOSE or MMS", ds.Protocol)
	}
	return nil
}

// ValidateDatasets checks every dataset and name uniqueness. A duplicate in
// a single request is malformed input, not a conflict with stored state.
func ValidateDatasets(datasets []Dataset) error {
	if len(datasets) > maxDatasets {
		return invalid("datasets", "exceeds %d entries", maxDatasets)
	}

	seen := make(map[string]struct{}, len(datasets))
	for i, ds := range datasets {
		prefix := fmt.Sprintf("datasets[%d]", i)
		if err := ValidateDataset(prefix, ds); err != nil {
			return err
		}
		if _, dup := seen[ds.Name]; dup {
			return invalid(prefix+".name", "duplicate dataset %q", ds.Name)
		}
		seen[ds.Name] = struct{}{}
	}
	return nil
}

// applyUpdate validates u field by field, in a fixed order, and applies it
// to d. On error d may be partially modified; callers work on a copy.
func applyUpdate(d *Device, u DeviceUpdate) error {
	if u.Name != nil {
		if err := ValidateName(*u.Name); err != nil {
			return err
		}
		d.Name = *u.Name
	}
	if u.IP != nil {
		if err := ValidateIP(*u.IP); err != nil {
			return err
		}
		d.IP = *u.IP
	}
	if u.Type != nil {
		if err := validateDescriptive("type", *u.Type); err != nil {
			return err
		}
		d.Type = *u.Type
	}
	if u.Manufacturer != nil {
		if err := validateDescriptive("manufacturer", *u.Manufacturer); err != nil {
			return err
		}
		d.Manufacturer = *u.Manufacturer
	}
	if u.Model != nil {
		if err := validateDescriptive("model", *u.Model); err != nil {
			return err
		}
		d.Model = *u.Model
	}
	if u.FirmwareVersion != nil {
		if err := validateDescriptive("firmwareVersion", *u.FirmwareVersion); err != nil {
			return err
		}
		d.FirmwareVersion = *u.FirmwareVersion
	}
	if u.DataPointCount != nil {
		if err := validateDataPointCount(*u.DataPointCount); err != nil {
			return err
		}
		d.DataPointCount = *u.DataPointCount
	}
	if u.LogicalDevices != nil {
		if err := ValidateLogicalDevices(*u.LogicalDevices); err != nil {
			return err
		}
		d.LogicalDevices = cloneLogicalDevices(*u.LogicalDevices)
	}
	return nil
}
