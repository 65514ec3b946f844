package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relaykit/relay/pkg/version"
)

// Descriptor is the server.json contract between a running hub and its
// clients. It carries everything a client needs to connect plus the version
// fields it must check before trusting the endpoint.
type Descriptor struct {
	InstanceID      string    `json:"instance_id"`
	DBID            string    `json:"db_id"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	AuthToken       string    `json:"auth_token"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	ProtocolVersion int       `json:"protocol_version"`
	SchemaVersion   int       `json:"schema_version"`
}

// BaseURL returns the hub's HTTP base URL.
func (d *Descriptor) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

// Validate checks the version fields a client must agree on before
// connecting.
func (d *Descriptor) Validate() error {
	if d.ProtocolVersion != version.ProtocolVersion {
		return fmt.Errorf("descriptor protocol version %d, want %d",
			d.ProtocolVersion, version.ProtocolVersion)
	}
	if d.SchemaVersion < 1 {
		return fmt.Errorf("descriptor schema version %d is invalid", d.SchemaVersion)
	}
	if d.Host == "" || d.Port <= 0 {
		return fmt.Errorf("descriptor endpoint %q:%d is invalid", d.Host, d.Port)
	}
	return nil
}

// ReadDescriptor loads and decodes server.json for a workspace root.
func ReadDescriptor(root string) (*Descriptor, error) {
	data, err := os.ReadFile(DescriptorPath(root))
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode server.json: %w", err)
	}
	return &d, nil
}

// WriteDescriptor writes server.json with owner-only permissions. The write
// goes through a temp file and rename so readers never observe a partial
// descriptor.
func WriteDescriptor(root string, d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode server.json: %w", err)
	}
	path := DescriptorPath(root)
	tmp, err := os.CreateTemp(filepath.Dir(path), DescriptorFile+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RemoveDescriptor deletes server.json, tolerating its absence.
func RemoveDescriptor(root string) error {
	err := os.Remove(DescriptorPath(root))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
