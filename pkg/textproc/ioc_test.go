package textproc

import (
	"reflect"
	"testing"
)

func TestExtractIOCs_AllTypes(t *testing.T) {
	text := "Beacon at 8.8.8.8 resolved evil-c2.example.com, dropper md5 d41d8cd98f00b204e9800998ecf8427e, " +
		"contact ops@darkmail.net, payload at https://cdn.badhost.io/stage2.bin"

	got := ExtractIOCs(text)

	want := map[string][]string{
		IocTypeIPAddresses: {"8.8.8.8"},
		IocTypeDomains:     {"evil-c2.example.com"},
		IocTypeHashes:      {"d41d8cd98f00b204e9800998ecf8427e"},
		IocTypeEmails:      {"ops@darkmail.net"},
		IocTypeURLs:        {"https://cdn.badhost.io/stage2.bin"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractIOCs() = %v, want %v", got, want)
	}
}

func TestExtractIOCs_UnmatchedTextReturnsEmpty(t *testing.T) {
	got := ExtractIOCs("nothing interesting here, just prose")
	if len(got) != 0 {
		t.Fatalf("ExtractIOCs() = %v, want empty mapping", got)
	}
}

func TestExtractIOCs_Idempotent(t *testing.T) {
	text := "hosts 10.0.0.1 and 10.0.0.2, also 10.0.0.1 again, sha256 " +
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	first := ExtractIOCs(text)
	second := ExtractIOCs(text)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ExtractIOCs not idempotent: %v vs %v", first, second)
	}
}

func TestExtractIOCs_DeduplicatesWithinTypePreservingOrder(t *testing.T) {
	got := ExtractIOCs("1.2.3.4 then 5.6.7.8 then 1.2.3.4 once more")
	want := []string{"1.2.3.4", "5.6.7.8"}
	if !reflect.DeepEqual(got[IocTypeIPAddresses], want) {
		t.Fatalf("ip_addresses = %v, want %v", got[IocTypeIPAddresses], want)
	}
}

func TestExtractIOCs_URLHostNotReportedAsDomain(t *testing.T) {
	got := ExtractIOCs("see https://portal.example.org/login for details")
	if len(got[IocTypeDomains]) != 0 {
		t.Fatalf("domains = %v, want none (host belongs to the URL match)", got[IocTypeDomains])
	}
	if len(got[IocTypeURLs]) != 1 {
		t.Fatalf("urls = %v, want exactly one", got[IocTypeURLs])
	}
}

func TestExtractIOCs_EmailDomainNotReportedAsDomain(t *testing.T) {
	got := ExtractIOCs("mail analyst@agency.gov now")
	if len(got[IocTypeDomains]) != 0 {
		t.Fatalf("domains = %v, want none (domain belongs to the email match)", got[IocTypeDomains])
	}
	if want := []string{"analyst@agency.gov"}; !reflect.DeepEqual(got[IocTypeEmails], want) {
		t.Fatalf("emails = %v, want %v", got[IocTypeEmails], want)
	}
}

func TestExtractIOCs_HashLengths(t *testing.T) {
	md5 := "d41d8cd98f00b204e9800998ecf8427e"
	sha1 := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	sha256 := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	got := ExtractIOCs(md5 + " " + sha1 + " " + sha256)
	want := []string{md5, sha1, sha256}
	if !reflect.DeepEqual(got[IocTypeHashes], want) {
		t.Fatalf("hashes = %v, want %v", got[IocTypeHashes], want)
	}
}
