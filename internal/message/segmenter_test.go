package message

import "testing"

func TestSegmenterYieldsBodyThenFooterThenNoMore(t *testing.T) {
	c := newTestContent(t, 0)
	c.AppendBodySegment([]byte("part1"))
	c.AppendBodySegment([]byte("part2"))
	c.AppendFooterSegment([]byte("trailer"))
	c.SetReceiveComplete()

	s := NewSegmenter(c)

	res, seg := s.Next()
	if res != SegmentBodyOK || string(seg.Data) != "part1" {
		t.Fatalf("expected first body segment, got %v %q", res, seg.Data)
	}
	res, seg = s.Next()
	if res != SegmentBodyOK || string(seg.Data) != "part2" {
		t.Fatalf("expected second body segment, got %v %q", res, seg.Data)
	}
	res, seg = s.Next()
	if res != SegmentFooterOK || string(seg.Data) != "trailer" {
		t.Fatalf("expected footer segment, got %v %q", res, seg.Data)
	}
	res, _ = s.Next()
	if res != SegmentNoMore {
		t.Fatalf("expected NO_MORE after all segments drained, got %v", res)
	}
}

func TestSegmenterIncompleteBeforeReceiveComplete(t *testing.T) {
	c := newTestContent(t, 0)
	c.AppendBodySegment([]byte("part1"))
	s := NewSegmenter(c)
	s.Next()
	res, _ := s.Next()
	if res != SegmentIncomplete {
		t.Fatalf("expected INCOMPLETE while not receive_complete, got %v", res)
	}
}

func TestSegmenterAbortedOverridesEverything(t *testing.T) {
	c := newTestContent(t, 0)
	c.AppendBodySegment([]byte("part1"))
	c.SetAborted()
	s := NewSegmenter(c)
	res, _ := s.Next()
	if res != SegmentAborted {
		t.Fatalf("expected ABORTED, got %v", res)
	}
}

func TestReleaseUpToIsNoOpGoingBackward(t *testing.T) {
	c := newTestContent(t, 0)
	c.AppendBodySegment([]byte("a"))
	c.AppendBodySegment([]byte("b"))
	c.AppendBodySegment([]byte("c"))
	s := NewSegmenter(c)

	s.ReleaseUpTo(2)
	if s.released != 2 {
		t.Fatalf("expected released=2, got %d", s.released)
	}
	s.ReleaseUpTo(0)
	if s.released != 2 {
		t.Fatalf("release_up_to with an earlier id should be a no-op, got released=%d", s.released)
	}
}
