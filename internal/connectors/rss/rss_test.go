package rss

import "testing"

func TestDecodeEntities_StripsCDATAAndDecodesInOrder(t *testing.T) {
	got := decodeEntities("<![CDATA[Town &amp;amp; Country &lt;b&gt;Fair&lt;/b&gt;]]>")
	want := `Town &amp; Country <b>Fair</b>`
	if got != want {
		t.Fatalf("decodeEntities() = %q, want %q", got, want)
	}
}

func TestDecodeEntities_AmpDecodedLast(t *testing.T) {
	got := decodeEntities("Fish &amp;amp; Chips")
	if got != "Fish &amp; Chips" {
		t.Fatalf("decodeEntities() = %q, want %q", got, "Fish &amp; Chips")
	}
}

func TestParseFeedDate_RFC1123Z(t *testing.T) {
	got := parseFeedDate("Mon, 02 Jan 2006 15:04:05 -0700")
	if got.IsZero() {
		t.Fatal("expected non-zero parsed time")
	}
}

func TestParseFeedDate_Unparseable(t *testing.T) {
	if got := parseFeedDate("not a date"); !got.IsZero() {
		t.Fatalf("expected zero time for unparseable input, got %v", got)
	}
}
