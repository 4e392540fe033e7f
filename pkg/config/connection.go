package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed connection.schema.json
var connectionSchema string

// ConnectionInfo is the connection file a launcher hands to the kernel.
type ConnectionInfo struct {
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnectionFile reads and validates a connection file.
func LoadConnectionFile(path string) (*ConnectionInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connection file: %w", err)
	}
	return ParseConnectionInfo(content)
}

// ParseConnectionInfo validates content against the connection schema and
// decodes it, filling transport and signature scheme defaults.
func ParseConnectionInfo(content []byte) (*ConnectionInfo, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(connectionSchema),
		gojsonschema.NewBytesLoader(content),
	)
	if err != nil {
		return nil, fmt.Errorf("validate connection file: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, fmt.Errorf("invalid connection file: %s", strings.Join(problems, "; "))
	}

	var info ConnectionInfo
	if err := json.Unmarshal(content, &info); err != nil {
		return nil, fmt.Errorf("parse connection file: %w", err)
	}
	if info.Transport == "" {
		info.Transport = "tcp"
	}
	if info.SignatureScheme == "" {
		info.SignatureScheme = "hmac-sha256"
	}
	return &info, nil
}

// Endpoint renders the ZeroMQ address for port.
func (c *ConnectionInfo) Endpoint(port int) (string, error) {
	switch c.Transport {
	case "tcp", "":
		return "tcp://" + c.IP + ":" + strconv.Itoa(port), nil
	case "ipc":
		return "ipc://" + c.IP + "-" + strconv.Itoa(port), nil
	default:
		return "", fmt.Errorf("unsupported transport %q", c.Transport)
	}
}

// Write stores the connection info as JSON with owner-only permissions.
func (c *ConnectionInfo) Write(path string) error {
	if c == nil {
		return errors.New("connection info is nil")
	}
	content, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode connection file: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("write connection file: %w", err)
	}
	return nil
}
