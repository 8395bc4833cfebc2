package delivery_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/delivery"
)

func TestValidateWebhookURL_RejectsCloudMetadataAlways(t *testing.T) {
	sec := config.OutputSecurityConfig{AllowedWebhookDomains: []string{"169.254.169.254"}}
	err := delivery.ValidateWebhookURL("http://169.254.169.254/latest/meta-data", sec)
	require.Error(t, err)
}

func TestValidateWebhookURL_RejectsLoopbackByDefault(t *testing.T) {
	sec := config.OutputSecurityConfig{}
	err := delivery.ValidateWebhookURL("http://127.0.0.1:8080/hook", sec)
	require.Error(t, err)
}

func TestValidateWebhookURL_AllowsLoopbackWhenConfigured(t *testing.T) {
	sec := config.OutputSecurityConfig{AllowLocalhostWebhooks: true}
	err := delivery.ValidateWebhookURL("http://127.0.0.1:8080/hook", sec)
	require.NoError(t, err)
}

func TestValidateWebhookURL_AllowListBypassesPrivateCheck(t *testing.T) {
	sec := config.OutputSecurityConfig{AllowedWebhookDomains: []string{"internal.example.com"}}
	err := delivery.ValidateWebhookURL("https://hooks.internal.example.com/x", sec)
	require.NoError(t, err)
}
