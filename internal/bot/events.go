package bot

import (
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/flow"

	tele "gopkg.in/telebot.v4"
)

// eventFrom maps an inbound message to a flow event. Messages the flow
// cannot use (stickers, locations) report false.
func eventFrom(m *tele.Message) (flow.Event, bool) {
	if m == nil {
		return flow.Event{}, false
	}
	switch {
	case m.Contact != nil:
		return flow.Contact(m.Contact.PhoneNumber), true
	case m.Photo != nil:
		return flow.File(appeal.Attachment{FileID: m.Photo.FileID, FileType: appeal.FilePhoto}), true
	case m.Video != nil:
		return flow.File(appeal.Attachment{FileID: m.Video.FileID, FileType: appeal.FileVideo, FileName: m.Video.FileName}), true
	case m.Document != nil:
		return flow.File(appeal.Attachment{FileID: m.Document.FileID, FileType: appeal.FileDocument, FileName: m.Document.FileName}), true
	case m.Text != "":
		return flow.Text(m.Text), true
	}
	return flow.Event{}, false
}
