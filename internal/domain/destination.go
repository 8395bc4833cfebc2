package domain

import "time"

// WebhookAuthKind tags which webhook authentication variant is in use.
type WebhookAuthKind string

const (
	WebhookAuthBearer    WebhookAuthKind = "bearer"
	WebhookAuthBasic     WebhookAuthKind = "basic"
	WebhookAuthAPIKey    WebhookAuthKind = "api_key"
	WebhookAuthHMAC      WebhookAuthKind = "hmac_signature"
)

// WebhookAuth configures authentication for a webhook destination. Fields are
// templated the same way URLs and headers are (§4.3.3).
type WebhookAuth struct {
	Kind      WebhookAuthKind `json:"kind"`
	Token     string          `json:"token,omitempty"`     // bearer
	Username  string          `json:"username,omitempty"`  // basic
	Password  string          `json:"password,omitempty"`  // basic
	Header    string          `json:"header,omitempty"`    // api_key
	Key       string          `json:"key,omitempty"`       // api_key
	Secret    string          `json:"secret,omitempty"`    // hmac
	Algorithm string          `json:"algorithm,omitempty"` // hmac, e.g. "hmac-sha256"
}

// WebhookConfig is the Webhook destination kind (§4.3.1 #1).
type WebhookConfig struct {
	URLTemplate string            `json:"url_template"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timeout     time.Duration     `json:"timeout"`
	Auth        *WebhookAuth      `json:"auth,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	RetryPolicy RetryPolicy       `json:"retry_policy"`
}

// FilesystemFormat names the serialization used when writing output to disk.
type FilesystemFormat string

const (
	FormatJSON       FilesystemFormat = "json"
	FormatJSONCompact FilesystemFormat = "json_compact"
	FormatYAML       FilesystemFormat = "yaml"
	FormatCSV        FilesystemFormat = "csv"
	FormatRaw        FilesystemFormat = "raw"
	FormatTemplate   FilesystemFormat = "template"
)

// FilesystemConfig is the Filesystem destination kind (§4.3.1 #2).
type FilesystemConfig struct {
	PathTemplate   string           `json:"path_template"`
	Format         FilesystemFormat `json:"format"`
	BodyTemplate   string           `json:"body_template,omitempty"` // used when Format == template
	Permissions    uint32           `json:"permissions"`             // octal, e.g. 0644
	CreateDirs     bool             `json:"create_dirs"`
	Overwrite      bool             `json:"overwrite"`
	BackupExisting bool             `json:"backup_existing"`
	RetryPolicy    RetryPolicy      `json:"retry_policy"`
}

// DatabaseDestConfig is the Database destination kind (§4.3.1 #3).
type DatabaseDestConfig struct {
	ConnectionString string            `json:"connection_string"`
	Table            string            `json:"table"`
	ColumnMappings   map[string]string `json:"column_mappings"` // output JSON path -> column name
	MaxOpenConns     int               `json:"max_open_conns"`
	RetryPolicy      RetryPolicy       `json:"retry_policy"`
}

// ObjectStoreConfig is the Object store destination kind (§4.3.1 #4).
type ObjectStoreConfig struct {
	Bucket          string      `json:"bucket"`
	KeyTemplate     string      `json:"key_template"`
	Region          string      `json:"region"`
	Endpoint        string      `json:"endpoint"`
	StorageClass    string      `json:"storage_class,omitempty"`
	AccessKeyID     string      `json:"access_key_id,omitempty"`
	SecretAccessKey string      `json:"secret_access_key,omitempty"`
	UseSSL          bool        `json:"use_ssl"`
	RetryPolicy     RetryPolicy `json:"retry_policy"`
}
