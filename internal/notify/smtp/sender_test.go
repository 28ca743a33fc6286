package smtp

import "testing"

func TestParseTLSMode(t *testing.T) {
	cases := []struct {
		in      string
		want    TLSMode
		wantErr bool
	}{
		{"", TLSModeAuto, false},
		{"auto", TLSModeAuto, false},
		{" STARTTLS ", TLSModeStartTLS, false},
		{"start_tls", TLSModeStartTLS, false},
		{"off", TLSModeDisabled, false},
		{"none", TLSModeDisabled, false},
		{"implicit", TLSModeImplicit, false},
		{"smtps", TLSModeImplicit, false},
		{"tls13", "", true},
	}
	for _, tc := range cases {
		got, err := parseTLSMode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseTLSMode(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("parseTLSMode(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestNewSenderResolvesAutoMode(t *testing.T) {
	s, err := NewSender(Config{Host: "smtp.example.com", Port: 465})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	if s.mode != TLSModeImplicit {
		t.Fatalf("expected implicit TLS on 465, got %v", s.mode)
	}

	s, err = NewSender(Config{Host: "smtp.example.com"})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	if s.cfg.Port != 587 {
		t.Fatalf("expected default port 587, got %d", s.cfg.Port)
	}
	if s.mode != TLSModeStartTLS {
		t.Fatalf("expected STARTTLS default, got %v", s.mode)
	}
}

func TestNewSenderValidation(t *testing.T) {
	if _, err := NewSender(Config{}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewSender(Config{Host: "smtp.example.com", TLSMode: "bogus"}); err == nil {
		t.Fatal("expected error for invalid tls mode")
	}
}
