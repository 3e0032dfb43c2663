package finalize

import "testing"

func TestStripEmojiRemovesCommonBlocks(t *testing.T) {
	got := stripEmoji("Tamam 😀 yapıldı 🚀!")
	if got != "Tamam  yapıldı !" && got != "Tamam yapıldı !" {
		t.Fatalf("expected emoji stripped, got %q", got)
	}
}

func TestLimitSentencesCapsAtMax(t *testing.T) {
	text := "Birinci cümle. İkinci cümle. Üçüncü cümle."
	got := limitSentences(text, 2)
	if got != "Birinci cümle. İkinci cümle." {
		t.Fatalf("expected 2 sentences, got %q", got)
	}
}

func TestLimitSentencesUnderLimitUnchanged(t *testing.T) {
	text := "Tek cümle."
	if got := limitSentences(text, 2); got != text {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestEnforceSingleEfendimKeepsOnlyFirst(t *testing.T) {
	text := "Efendim, tamam. Efendim, bir şey daha."
	got := enforceSingleEfendim(text)
	count := 0
	for i := 0; i+len("efendim") <= len(got); i++ {
		if len(got) >= i+7 {
			seg := got[i : i+7]
			lowered := make([]byte, len(seg))
			for j := range seg {
				c := seg[j]
				if c >= 'A' && c <= 'Z' {
					c += 'a' - 'A'
				}
				lowered[j] = c
			}
			if string(lowered) == "efendim" {
				count++
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one Efendim, got %d in %q", count, got)
	}
}

func TestAcknowledgeAddsPrefixIfMissing(t *testing.T) {
	if got := Acknowledge("tamamdır"); got != "Efendim, tamamdır" {
		t.Fatalf("expected prefixed, got %q", got)
	}
}

func TestAcknowledgeLeavesExistingPrefix(t *testing.T) {
	if got := Acknowledge("Efendim, tamamdır"); got != "Efendim, tamamdır" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestAcknowledgeEmptyReturnsBarePrefix(t *testing.T) {
	if got := Acknowledge(""); got != "Efendim" {
		t.Fatalf("expected bare prefix, got %q", got)
	}
}

func TestNormalizeOrdinalListCanonicalizesMarkers(t *testing.T) {
	in := "1) ilk madde\n2- ikinci madde"
	out := NormalizeOrdinalList(in)
	want := "1. ilk madde\n2. ikinci madde"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestVoiceStyleApplyComposesTransforms(t *testing.T) {
	style := VoiceStyle{StripEmoji: true, MaxSentences: 1}
	got := style.Apply("Efendim, tamam 😀. İkinci cümle burada. Efendim, tekrar.")
	if got == "" {
		t.Fatal("expected non-empty output")
	}
}
