package threads

// AnonymousAuthor replaces the author of anonymous replies on shared views.
var AnonymousAuthor = Author{
	AvatarURL:     "",
	Discriminator: "0",
	ID:            "0",
	Mod:           true,
	Name:          "anonymous",
}

// Visibility selects which parts of a thread a shared view reveals.
type Visibility struct {
	ShowInternalMessages    bool
	ShowAnonymousSenderName bool
	ShowSystemMessages      bool
}

// Redact returns a copy of t with the messages vis hides removed and
// anonymous senders masked. t is not modified.
func Redact(t *Thread, vis Visibility) *Thread {
	out := *t
	out.Messages = make([]Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		switch m.Type {
		case MessageInternal:
			if !vis.ShowInternalMessages {
				continue
			}
		case MessageSystem:
			if !vis.ShowSystemMessages {
				continue
			}
		case MessageAnonymous:
			if !vis.ShowAnonymousSenderName {
				m.Author = AnonymousAuthor
			}
		}
		out.Messages = append(out.Messages, m)
	}
	return &out
}
