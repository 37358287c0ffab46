package state

import "testing"

func streamingMsg(sender, content, qid string, streaming bool) ChatMessage {
	return ChatMessage{
		Sender:      sender,
		Content:     content,
		Timestamp:   "10:30:00",
		Streaming:   streaming,
		QuestionID:  qid,
		Participant: sender,
	}
}

func TestChatStreamingConsolidation(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	chat.Push(streamingMsg("tutor", "Hel", "7", true))
	chat.Push(streamingMsg("tutor", "Hello", "7", true))
	chat.Push(streamingMsg("tutor", "Hello, world.", "7", false))

	msgs := chat.ReadAll()
	if len(msgs) != 1 {
		t.Fatalf("want 1 consolidated message, got %d", len(msgs))
	}
	if msgs[0].Content != "Hello, world." {
		t.Fatalf("want final content, got %q", msgs[0].Content)
	}
	if msgs[0].Streaming {
		t.Fatal("complete message must finalize streaming flag")
	}
	if msgs[0].Timestamp != "10:30:00" {
		t.Fatalf("consolidation must keep original timestamp, got %q", msgs[0].Timestamp)
	}
}

func TestChatStreamingPushDoesNotGrowList(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	chat.Push(streamingMsg("tutor", "a", "7", true))
	before := chat.Len()
	chat.Push(streamingMsg("tutor", "ab", "7", true))
	if chat.Len() != before {
		t.Fatalf("matching streaming push grew list: %d -> %d", before, chat.Len())
	}
}

func TestChatDifferentQuestionsDoNotConsolidate(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	chat.Push(streamingMsg("tutor", "first", "7", true))
	chat.Push(streamingMsg("tutor", "second", "8", true))

	if chat.Len() != 2 {
		t.Fatalf("different question ids must not consolidate, got %d entries", chat.Len())
	}
}

func TestChatDifferentParticipantsDoNotConsolidate(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	chat.Push(streamingMsg("tutor", "from tutor", "7", true))
	chat.Push(streamingMsg("student1", "from student", "7", true))

	if chat.Len() != 2 {
		t.Fatalf("different participants must not consolidate, got %d entries", chat.Len())
	}
}

func TestChatNoQuestionIDNeverConsolidates(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	chat.Push(streamingMsg("tutor", "first", "", true))
	chat.Push(streamingMsg("tutor", "second", "", true))

	if chat.Len() != 2 {
		t.Fatalf("messages without question id must not consolidate, got %d", chat.Len())
	}
}

func TestChatFinalizedEntryNotUpdated(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	chat.Push(streamingMsg("tutor", "done", "7", false))
	chat.Push(streamingMsg("tutor", "late chunk", "7", true))

	msgs := chat.ReadAll()
	if len(msgs) != 2 {
		t.Fatalf("finalized entry must not absorb later chunks, got %d entries", len(msgs))
	}
	if msgs[0].Content != "done" {
		t.Fatalf("finalized content mutated: %q", msgs[0].Content)
	}
}

func TestChatDirtyTracking(t *testing.T) {
	t.Parallel()

	chat := NewChatState(100)
	if _, ok := chat.ReadIfDirty(); ok {
		t.Fatal("empty chat must not be dirty")
	}
	chat.Push(streamingMsg("user", "hi", "", false))
	if msgs, ok := chat.ReadIfDirty(); !ok || len(msgs) != 1 {
		t.Fatalf("want dirty read with 1 message, got (%d, %v)", len(msgs), ok)
	}
	if _, ok := chat.ReadIfDirty(); ok {
		t.Fatal("chat must not stay dirty after read")
	}
}

func TestChatBounded(t *testing.T) {
	t.Parallel()

	chat := NewChatState(2)
	chat.Push(streamingMsg("user", "one", "", false))
	chat.Push(streamingMsg("user", "two", "", false))
	chat.Push(streamingMsg("user", "three", "", false))

	msgs := chat.ReadAll()
	if len(msgs) != 2 || msgs[0].Content != "two" {
		t.Fatalf("want oldest trimmed, got %v", msgs)
	}
}
