package managers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderWebhookTemplate(t *testing.T) {
	variables := map[string]string{
		"event":     "job.completed",
		"timestamp": "2026-08-30T12:00:00Z",
		"job_id":    "job-1",
	}

	tests := []struct {
		name        string
		template    string
		want        string
		wantUnknown []string
	}{
		{
			name:     "known placeholders",
			template: `{"type":"{{event}}","at":"{{timestamp}}"}`,
			want:     `{"type":"job.completed","at":"2026-08-30T12:00:00Z"}`,
		},
		{
			name:     "whitespace inside braces",
			template: `{{ event }} / {{  job_id  }}`,
			want:     `job.completed / job-1`,
		},
		{
			name:        "unknown placeholder renders empty",
			template:    `{"who":"{{user_name}}","type":"{{event}}"}`,
			want:        `{"who":"","type":"job.completed"}`,
			wantUnknown: []string{"user_name"},
		},
		{
			name:     "no placeholders",
			template: `{"static":true}`,
			want:     `{"static":true}`,
		},
		{
			name:     "repeated placeholder",
			template: `{{event}}:{{event}}`,
			want:     `job.completed:job.completed`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered, unknown := renderWebhookTemplate(tt.template, variables)
			assert.Equal(t, tt.want, rendered)
			assert.Equal(t, tt.wantUnknown, unknown)
		})
	}
}

func TestRenderWebhookTemplate_Deterministic(t *testing.T) {
	variables := map[string]string{"event": "connection.expired"}
	template := `{"event":"{{event}}","missing":"{{nope}}"}`

	first, _ := renderWebhookTemplate(template, variables)
	second, _ := renderWebhookTemplate(template, variables)

	assert.Equal(t, first, second)
}
