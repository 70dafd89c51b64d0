// internal/transport/ports.go
package transport

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"serial-service/internal/model"
)

// Describer fills in manufacturer and product strings that the OS port list
// does not carry
type Describer interface {
	Describe(info *model.PortInfo)
}

// ListPorts enumerates OS-visible serial ports, sorted by name
func ListPorts(describer Describer) ([]model.PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]model.PortInfo, 0, len(details))
	for _, d := range details {
		info := portInfoFromDetails(d)
		if describer != nil && info.IsUSB {
			describer.Describe(&info)
		}
		ports = append(ports, info)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Port < ports[j].Port })
	return ports, nil
}

// LookupPort returns the descriptor for port, or a bare descriptor when the
// OS does not list it (TCP bridges, pseudo terminals)
func LookupPort(port string, describer Describer) model.PortInfo {
	if _, _, hasScheme := SplitScheme(port); hasScheme {
		return model.PortInfo{Port: port, Description: "network bridge"}
	}

	ports, err := ListPorts(describer)
	if err == nil {
		for _, p := range ports {
			if p.Port == port {
				return p
			}
		}
	}
	return model.PortInfo{Port: port, Description: "n/a"}
}

func portInfoFromDetails(d *enumerator.PortDetails) model.PortInfo {
	info := model.PortInfo{
		Port:         d.Name,
		Product:      d.Product,
		SerialNumber: d.SerialNumber,
		IsUSB:        d.IsUSB,
	}
	if d.IsUSB {
		info.VID = strings.ToUpper(d.VID)
		info.PID = strings.ToUpper(d.PID)
		info.HWID = fmt.Sprintf("USB VID:PID=%s:%s", info.VID, info.PID)
		if d.SerialNumber != "" {
			info.HWID += " SER=" + d.SerialNumber
		}
	}

	info.Description = d.Product
	if info.Description == "" {
		info.Description = "n/a"
	}
	return info
}
