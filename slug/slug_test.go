package slug

import (
	"testing"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "basic ascii",
			input:    "Hello World",
			expected: "hello-world",
		},
		{
			name:     "with punctuation",
			input:    "Hello, World!",
			expected: "hello-world",
		},
		{
			name:     "with unicode characters",
			input:    "Café München",
			expected: "cafe-munchen",
		},
		{
			name:     "with underscores and dots",
			input:    "example_post.123",
			expected: "example-post-123",
		},
		{
			name:     "with leading/trailing spaces",
			input:    "  Hello World  ",
			expected: "hello-world",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only special characters",
			input:    "@#$%^&*()",
			expected: "",
		},
		{
			name:     "cyrillic characters",
			input:    "Привет Мир",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Generate(tt.input)
			if result != tt.expected {
				t.Errorf("Generate(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGenerateLength(t *testing.T) {
	longInput := "This is an extremely long author name that goes on and on and should definitely be truncated because it exceeds the limit"

	result := Generate(longInput)
	if len(result) > maxLength {
		t.Errorf("Slug length %d exceeds maximum of %d characters", len(result), maxLength)
	}
	if result[len(result)-1] == '-' {
		t.Errorf("Slug %q ends with a hyphen", result)
	}
}

func TestForPost(t *testing.T) {
	tests := []struct {
		name     string
		author   string
		url      string
		id       int64
		expected string
	}{
		{
			name:     "author name",
			author:   "Zoë Álvarez",
			url:      "https://www.linkedin.com/posts/zoe_123",
			id:       42,
			expected: "zoe-alvarez-42",
		},
		{
			name:     "falls back to url segment",
			author:   "",
			url:      "https://lenny.substack.com/p/how-to-price/",
			id:       7,
			expected: "how-to-price-7",
		},
		{
			name:     "nothing usable",
			author:   "!!!",
			url:      "https://substack.com/",
			id:       1,
			expected: "post-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ForPost(tt.author, tt.url, tt.id)
			if result != tt.expected {
				t.Errorf("ForPost(%q, %q, %d) = %q, want %q", tt.author, tt.url, tt.id, result, tt.expected)
			}
		})
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Café  Pricing", "cafe pricing"},
		{"  NAÏVE\tTier\n", "naive tier"},
		{"already folded", "already folded"},
	}

	for _, tt := range tests {
		if got := Fold(tt.input); got != tt.expected {
			t.Errorf("Fold(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
