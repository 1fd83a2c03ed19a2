package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/battfleet/pkg/graph"
	"github.com/charlie0129/battfleet/pkg/utils/ptr"
)

// Environment variables that override secrets from the file. They are
// never written back by Save.
const (
	EnvClientSecret = "BATTFLEET_CLIENT_SECRET"
	EnvAccessToken  = "BATTFLEET_TOKEN"
)

var (
	defaultFileConfig = &RawFileConfig{
		GraphURL:          ptr.To(graph.DefaultBaseURL),
		Attribute:         ptr.To("Battery Health"),
		MinHealth:         ptr.To(80),
		ReportTitle:       ptr.To("Mac battery health"),
		Schedule:          ptr.To("0 8 * * MON"),
		Enrich:            ptr.To(true),
		EnrichConcurrency: ptr.To(4),
		Listen:            ptr.To("127.0.0.1:8787"),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string

	env map[string]string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	TenantID     *string `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	ClientID     *string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret *string `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	AccessToken  *string `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	GraphURL     *string `json:"graphUrl,omitempty" yaml:"graphUrl,omitempty"`

	Attribute   *string  `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Recipients  []string `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Sender      *string  `json:"sender,omitempty" yaml:"sender,omitempty"`
	MinHealth   *int     `json:"minHealth,omitempty" yaml:"minHealth,omitempty"`
	ReportTitle *string  `json:"reportTitle,omitempty" yaml:"reportTitle,omitempty"`
	Schedule    *string  `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	Enrich            *bool   `json:"enrich,omitempty" yaml:"enrich,omitempty"`
	EnrichConcurrency *int    `json:"enrichConcurrency,omitempty" yaml:"enrichConcurrency,omitempty"`
	Listen            *string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// get returns the configured value, falling back to the default, then to
// the zero value.
func get[T any](f *File, pick func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := pick(f.c); v != nil {
		return *v
	}
	if v := pick(defaultFileConfig); v != nil {
		return *v
	}
	var zero T
	return zero
}

func (f *File) fromEnv(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.env[key]
	return v, ok && v != ""
}

func (f *File) TenantID() string {
	return get(f, func(c *RawFileConfig) *string { return c.TenantID })
}

func (f *File) ClientID() string {
	return get(f, func(c *RawFileConfig) *string { return c.ClientID })
}

func (f *File) ClientSecret() string {
	if v, ok := f.fromEnv(EnvClientSecret); ok {
		return v
	}
	return get(f, func(c *RawFileConfig) *string { return c.ClientSecret })
}

func (f *File) AccessToken() string {
	if v, ok := f.fromEnv(EnvAccessToken); ok {
		return v
	}
	return get(f, func(c *RawFileConfig) *string { return c.AccessToken })
}

func (f *File) GraphURL() string {
	return get(f, func(c *RawFileConfig) *string { return c.GraphURL })
}

func (f *File) Attribute() string {
	return get(f, func(c *RawFileConfig) *string { return c.Attribute })
}

func (f *File) Recipients() []string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]string(nil), f.c.Recipients...)
}

func (f *File) Sender() string {
	return get(f, func(c *RawFileConfig) *string { return c.Sender })
}

func (f *File) MinHealth() int {
	return get(f, func(c *RawFileConfig) *int { return c.MinHealth })
}

func (f *File) ReportTitle() string {
	return get(f, func(c *RawFileConfig) *string { return c.ReportTitle })
}

func (f *File) Schedule() string {
	return get(f, func(c *RawFileConfig) *string { return c.Schedule })
}

func (f *File) Enrich() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.Enrich })
}

func (f *File) EnrichConcurrency() int {
	return get(f, func(c *RawFileConfig) *int { return c.EnrichConcurrency })
}

func (f *File) Listen() string {
	return get(f, func(c *RawFileConfig) *string { return c.Listen })
}

func (f *File) SetAttribute(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Attribute = &s
}

// SetRecipients replaces the recipients. Empty entries are dropped.
func (f *File) SetRecipients(r []string) {
	var clean []string
	for _, s := range r {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Recipients = clean
}

func (f *File) SetSender(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Sender = &s
}

func (f *File) SetMinHealth(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MinHealth = &i
}

func (f *File) SetSchedule(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Schedule = &s
}

func (f *File) SetListen(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Listen = &s
}

func (f *File) Validate() error {
	if h := f.MinHealth(); h < 0 || h > 100 {
		return pkgerrors.Errorf("minimum health must be between 0 and 100, got %d", h)
	}
	if n := f.EnrichConcurrency(); n < 1 {
		return pkgerrors.Errorf("enrich concurrency must be at least 1, got %d", n)
	}
	if strings.TrimSpace(f.Attribute()) == "" {
		return pkgerrors.New("attribute must not be empty")
	}
	return nil
}

// Credentials returns the Graph credentials. An access token, if set,
// wins over the client credentials.
func (f *File) Credentials() graph.Credentials {
	return graph.Credentials{
		TenantID:     f.TenantID(),
		ClientID:     f.ClientID(),
		ClientSecret: f.ClientSecret(),
		AccessToken:  f.AccessToken(),
	}
}

func (f *File) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.filepath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.env = map[string]string{
		EnvClientSecret: os.Getenv(EnvClientSecret),
		EnvAccessToken:  os.Getenv(EnvAccessToken),
	}

	if f.filepath == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file is an empty config. Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if len(bytes.TrimSpace(b)) == 0 {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}
	if f.filepath == "" {
		return pkgerrors.New("config has no file path")
	}

	// The file may hold a client secret.
	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	if f.isYAML() {
		enc := yaml.NewEncoder(fp)
		enc.SetIndent(2)
		err = enc.Encode(f.c)
		if err == nil {
			err = enc.Close()
		}
	} else {
		enc := json.NewEncoder(fp)
		enc.SetIndent("", "  ")
		err = enc.Encode(f.c)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"tenantId":          f.TenantID(),
		"clientId":          f.ClientID(),
		"hasClientSecret":   f.ClientSecret() != "",
		"hasAccessToken":    f.AccessToken() != "",
		"graphUrl":          f.GraphURL(),
		"attribute":         f.Attribute(),
		"recipients":        len(f.Recipients()),
		"sender":            f.Sender(),
		"minHealth":         f.MinHealth(),
		"schedule":          f.Schedule(),
		"enrich":            f.Enrich(),
		"enrichConcurrency": f.EnrichConcurrency(),
		"listen":            f.Listen(),
	}
}
