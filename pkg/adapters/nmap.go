package adapters

import (
	"encoding/xml"
	"fmt"

	"github.com/user/gosec-agg/pkg/engine"
)

// NmapAdapter parses `nmap -oX` output. Every open port is a finding.
type NmapAdapter struct{}

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Addresses []nmapAddress `xml:"address"`
	Ports     struct {
		Ports []nmapPort `xml:"port"`
	} `xml:"ports"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapPort struct {
	PortID   string `xml:"portid,attr"`
	Protocol string `xml:"protocol,attr"`
	State    struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name    string `xml:"name,attr"`
		Product string `xml:"product,attr"`
	} `xml:"service"`
}

// highRiskPorts carry remote shells and clear-text admin protocols.
var highRiskPorts = map[string]bool{"21": true, "23": true, "3389": true, "5900": true, "445": true, "22": true}

// lowRiskPorts are expected on most web-facing hosts.
var lowRiskPorts = map[string]bool{"80": true, "443": true}

func (NmapAdapter) Tool() string { return "nmap" }

func (a NmapAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	var run nmapRun
	if err := xml.Unmarshal(raw, &run); err != nil {
		return nil, nil, err
	}

	var out []engine.RawFinding
	var warnings []ParseWarning
	for hi, host := range run.Hosts {
		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" && len(host.Addresses) > 0 {
			ip = host.Addresses[0].Addr
		}
		if ip == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: hi, Reason: "host without address"})
			continue
		}

		for _, port := range host.Ports.Ports {
			if port.State.State != "open" {
				continue
			}
			sev := "MEDIUM"
			switch {
			case highRiskPorts[port.PortID]:
				sev = "HIGH"
			case lowRiskPorts[port.PortID]:
				sev = "LOW"
			}
			service := firstNonEmpty(port.Service.Name, "unknown")
			out = append(out, engine.RawFinding{
				Tool:        a.Tool(),
				RuleID:      fmt.Sprintf("open-port-%s-%s", port.Protocol, port.PortID),
				RawSeverity: sev,
				Message:     fmt.Sprintf("Port %s/%s is open (Service: %s)", port.PortID, port.Protocol, service),
				Resource:    fmt.Sprintf("%s:%s/%s", ip, port.PortID, port.Protocol),
			})
		}
	}
	return out, warnings, nil
}
