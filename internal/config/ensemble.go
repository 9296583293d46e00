// Package config loads the static ensemble membership FLE runs over, in
// the same YAML-file-to-struct style as the ambient stack's node
// configuration loader.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"quorumkeeper/internal/fle"
)

// PeerSpec is one ensemble member as loaded from YAML.
type PeerSpec struct {
	Sid      uint64 `yaml:"sid"`
	Address  string `yaml:"address"`
	Port     string `yaml:"port"`
	Weight   uint64 `yaml:"weight"`
	Observer bool   `yaml:"observer"`
}

// GetAddress joins Address and Port into a dial target.
func (p PeerSpec) GetAddress() string {
	return net.JoinHostPort(p.Address, p.Port)
}

// Ensemble is the top-level document: which sid this process is, and the
// full peer list (self included).
type Ensemble struct {
	Self  uint64     `yaml:"self"`
	Peers []PeerSpec `yaml:"peers"`
}

// ReadEnsemble loads and parses an ensemble configuration file.
func ReadEnsemble(file string) (*Ensemble, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", file, err)
	}

	var e Ensemble
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", file, err)
	}
	return &e, nil
}

// PeerInfos converts the loaded ensemble into the fle.PeerInfo slice
// fle.NewPeerRegistry expects, resolving each observer's weight to 0
// regardless of what the YAML declared.
func (e *Ensemble) PeerInfos() []fle.PeerInfo {
	out := make([]fle.PeerInfo, 0, len(e.Peers))
	for _, p := range e.Peers {
		weight := p.Weight
		if p.Observer {
			weight = 0
		} else if weight == 0 {
			weight = 1
		}
		out = append(out, fle.PeerInfo{
			Sid:     fle.PeerID(p.Sid),
			Address: p.GetAddress(),
			Weight:  weight,
		})
	}
	return out
}

// SelfSpec returns the PeerSpec matching e.Self.
func (e *Ensemble) SelfSpec() (PeerSpec, error) {
	for _, p := range e.Peers {
		if p.Sid == e.Self {
			return p, nil
		}
	}
	return PeerSpec{}, fmt.Errorf("config: self sid %d not present in peer list", e.Self)
}

// SelfLearnerType reports whether this process's own entry is an observer.
func (e *Ensemble) SelfLearnerType() (fle.LearnerType, error) {
	self, err := e.SelfSpec()
	if err != nil {
		return 0, err
	}
	if self.Observer {
		return fle.ObserverLearner, nil
	}
	return fle.Participant, nil
}
