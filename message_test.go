package chatkit

import (
	"strings"
	"testing"

	"chatkit/internal/wire"
)

func TestMessageFromItemSanitizesText(t *testing.T) {
	item := &wire.MessageItem{
		ClientSideID: "m1",
		Kind:         wire.KindOperator,
		Text:         `hi <script>alert(1)</script>`,
		TimeMicros:   100,
	}
	msg := messageFromItem(item)
	if strings.Contains(msg.Text, "script") {
		t.Fatalf("markup survived: %q", msg.Text)
	}
	if msg.SendStatus != SendStatusSent {
		t.Fatalf("status = %q", msg.SendStatus)
	}
}

func TestMessageFromItemUnknownKind(t *testing.T) {
	item := &wire.MessageItem{ClientSideID: "m1", Kind: "hologram", TimeMicros: 100}
	if msg := messageFromItem(item); msg.Type != MessageTypeUnknown {
		t.Fatalf("type = %q", msg.Type)
	}
}

func TestMessageFromItemFilePayload(t *testing.T) {
	item, err := wire.DecodeMessageItem([]byte(`{
		"clientSideId": "f1",
		"kind": "file_operator",
		"ts_m": 100,
		"data": {
			"file": {
				"state": "ready",
				"desc": {
					"filename": "pic.png",
					"size": 2048,
					"content_type": "image/png",
					"url": "https://cdn.example.com/pic.png",
					"image": {"width": 64, "height": 48}
				}
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := messageFromItem(item)
	if msg.Attachment == nil {
		t.Fatal("attachment not decoded")
	}
	a := msg.Attachment
	if a.State != AttachmentStateReady || a.Filename != "pic.png" || a.Size != 2048 {
		t.Fatalf("attachment = %+v", a)
	}
	if a.ImageWidth != 64 || a.ImageHeight != 48 {
		t.Fatalf("image size = %dx%d", a.ImageWidth, a.ImageHeight)
	}
}

func TestMessageFromItemKeyboard(t *testing.T) {
	item, err := wire.DecodeMessageItem([]byte(`{
		"clientSideId": "k1",
		"kind": "keyboard",
		"ts_m": 100,
		"data": {
			"keyboard": {
				"state": "pending",
				"buttons": [[{"id": "b1", "text": "Yes"}, {"id": "b2", "text": "No"}]]
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := messageFromItem(item)
	if msg.Keyboard == nil || msg.Keyboard.State != KeyboardStatePending {
		t.Fatalf("keyboard = %+v", msg.Keyboard)
	}
	if len(msg.Keyboard.Buttons) != 1 || len(msg.Keyboard.Buttons[0]) != 2 {
		t.Fatalf("buttons = %+v", msg.Keyboard.Buttons)
	}
	if msg.Keyboard.Buttons[0][0].ID != "b1" {
		t.Fatalf("button = %+v", msg.Keyboard.Buttons[0][0])
	}
}

func TestMessageRecordRoundTrip(t *testing.T) {
	original := Message{
		ID:           "m1",
		ServerSideID: "srv1",
		Type:         MessageTypeFileFromOperator,
		Text:         "sent you a file",
		TimeMicros:   12345,
		SendStatus:   SendStatusSent,
		SenderName:   "Alex",
		OperatorID:   "17",
		IsEdited:     true,
		Reaction:     ReactionLike,
		Attachment: &Attachment{
			State:    AttachmentStateReady,
			Filename: "doc.pdf",
			Size:     99,
		},
		Quote: &Quote{State: QuoteStateFilled, MessageID: "m0", Text: "earlier"},
	}

	restored := messageFromRecord(messageToRecord(original))

	if restored.ID != original.ID || restored.ServerSideID != original.ServerSideID {
		t.Fatalf("identity lost: %+v", restored)
	}
	if restored.Type != original.Type || restored.TimeMicros != original.TimeMicros {
		t.Fatalf("ordering fields lost: %+v", restored)
	}
	if restored.Attachment == nil || restored.Attachment.Filename != "doc.pdf" {
		t.Fatalf("attachment lost: %+v", restored.Attachment)
	}
	if restored.Quote == nil || restored.Quote.MessageID != "m0" {
		t.Fatalf("quote lost: %+v", restored.Quote)
	}
	if restored.Reaction != ReactionLike || !restored.IsEdited {
		t.Fatalf("flags lost: %+v", restored)
	}
}

func TestQuoteFromItemStates(t *testing.T) {
	item, err := wire.DecodeMessageItem([]byte(`{
		"clientSideId": "q1",
		"kind": "visitor",
		"ts_m": 100,
		"quote": {
			"state": "filled",
			"message": {"id": "srv0", "authorId": "17", "text": "source", "ts": 50}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := messageFromItem(item)
	if msg.Quote == nil || msg.Quote.State != QuoteStateFilled {
		t.Fatalf("quote = %+v", msg.Quote)
	}
	if msg.Quote.MessageID != "srv0" || msg.Quote.Text != "source" {
		t.Fatalf("quote fields = %+v", msg.Quote)
	}
}
