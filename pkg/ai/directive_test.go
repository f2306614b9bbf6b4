package ai

import "testing"

func TestExtractDirectiveStripsMarker(t *testing.T) {
	text, prompt := ExtractDirective("Nice! [GENERATE: a red fox in snow]")
	if text != "Nice!" {
		t.Fatalf("text = %q, want %q", text, "Nice!")
	}
	if prompt != "a red fox in snow" {
		t.Fatalf("prompt = %q, want %q", prompt, "a red fox in snow")
	}
}

func TestExtractDirectiveNoMarkerReturnsVerbatim(t *testing.T) {
	in := "Just chatting, no image needed here."
	text, prompt := ExtractDirective(in)
	if text != in {
		t.Fatalf("text = %q, want input verbatim", text)
	}
	if prompt != "" {
		t.Fatalf("prompt = %q, want empty", prompt)
	}
}

func TestExtractDirectiveMalformedMarker(t *testing.T) {
	in := "Sure [GENERATE: missing close bracket"
	text, prompt := ExtractDirective(in)
	if text != in {
		t.Fatalf("text = %q, want input verbatim", text)
	}
	if prompt != "" {
		t.Fatalf("prompt = %q, want empty", prompt)
	}
}

func TestExtractDirectiveHonorsFirstMarkerOnly(t *testing.T) {
	text, prompt := ExtractDirective("A [GENERATE: first] B [GENERATE: second]")
	if prompt != "first" {
		t.Fatalf("prompt = %q, want %q", prompt, "first")
	}
	// Later markers are left in place; only the first occurrence is consumed.
	if text != "A B [GENERATE: second]" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractDirectiveMidSentence(t *testing.T) {
	text, prompt := ExtractDirective("Here you go [GENERATE: a vivid sunset over mountains] enjoy!")
	if prompt != "a vivid sunset over mountains" {
		t.Fatalf("prompt = %q", prompt)
	}
	if text != "Here you go  enjoy!" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractDirectiveEmptyPrompt(t *testing.T) {
	text, prompt := ExtractDirective("Hmm [GENERATE:  ]")
	if prompt != "" {
		t.Fatalf("prompt = %q, want empty", prompt)
	}
	if text != "Hmm" {
		t.Fatalf("text = %q, want %q", text, "Hmm")
	}
}
