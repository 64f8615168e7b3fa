package render

import "testing"

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		body string
		vars map[string]string
		want string
	}{
		{
			name: "simple substitution",
			body: "Hello {{firstName}} {{lastName}}",
			vars: map[string]string{"firstName": "Ada", "lastName": "Obi"},
			want: "Hello Ada Obi",
		},
		{
			name: "missing variable left unmodified",
			body: "Hi {{unknown}}",
			vars: map[string]string{},
			want: "Hi {{unknown}}",
		},
		{
			name: "case sensitive keys",
			body: "Hi {{FirstName}}",
			vars: map[string]string{"firstName": "Ada"},
			want: "Hi {{FirstName}}",
		},
		{
			name: "empty body",
			body: "",
			vars: map[string]string{"firstName": "Ada"},
			want: "",
		},
		{
			name: "repeated token",
			body: "{{email}}, {{email}}",
			vars: map[string]string{"email": "a@x.com"},
			want: "a@x.com, a@x.com",
		},
		{
			name: "empty value substitutes empty string",
			body: "Branch: {{branchName}}.",
			vars: map[string]string{"branchName": ""},
			want: "Branch: .",
		},
		{
			name: "html body",
			body: "<p>Dear {{firstName}},</p><p>Your status is {{membershipStatus}}.</p>",
			vars: map[string]string{"firstName": "Ada", "membershipStatus": "active"},
			want: "<p>Dear Ada,</p><p>Your status is active.</p>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.body, tt.vars)
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderIdempotent(t *testing.T) {
	body := "Hello {{firstName}}, welcome to {{branchName}} ({{missing}})"
	vars := map[string]string{"firstName": "Ada", "branchName": "Hope Chapel"}

	first := Render(body, vars)
	second := Render(body, vars)
	if first != second {
		t.Errorf("render not idempotent: %q != %q", first, second)
	}
}
