package signal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
)

func assistant(id, text string) domain.Message {
	return domain.Message{ID: id, Role: domain.RoleAssistant, Content: text}
}

func TestExtract_ResolvesSelectionAcrossUnrelatedMessages(t *testing.T) {
	offer := assistant("a", "Here are your design variations: https://x/a.png https://x/b.png https://x/c.png")
	unrelated := assistant("b", "Let me know which one you prefer.")
	user := domain.Message{ID: "u", Role: domain.RoleUser, Content: "I like the second"}
	confirm := assistant("c", "Great choice, variation_2 it is. Would you like to bring this to life?")

	got := Extract(confirm, []domain.Message{offer, unrelated, user, confirm})
	require.NotNil(t, got.Selection)
	require.Equal(t, domain.Variation{Token: "variation_2", URL: "https://x/b.png"}, *got.Selection)
}

func TestExtract_UsesNearestOffer(t *testing.T) {
	older := assistant("a", "Here are your design variations: https://x/old1.png https://x/old2.png")
	newer := assistant("b", "Here are your design variations: https://x/new1.jpg?v=2 https://x/new2.jpeg")
	confirm := assistant("c", "You picked VARIATION_1. Would you like to bring this to life?")

	got := Extract(confirm, []domain.Message{older, newer})
	require.NotNil(t, got.Selection)
	require.Equal(t, "variation_1", got.Selection.Token)
	require.Equal(t, "https://x/new1.jpg?v=2", got.Selection.URL)
}

func TestExtract_TokenOutOfRangeYieldsNothing(t *testing.T) {
	offer := assistant("a", "Here are your design variations: https://x/a.png")
	confirm := assistant("c", "variation_3 selected. Would you like to bring this to life?")

	got := Extract(confirm, []domain.Message{offer})
	require.Nil(t, got.Selection)
}

func TestExtract_ConfirmationWithoutOffer(t *testing.T) {
	confirm := assistant("c", "variation_1. Would you like to bring this to life?")
	require.True(t, Extract(confirm, []domain.Message{assistant("x", "hello")}).Empty())
}

func TestExtract_ConfirmationNeedsBothParts(t *testing.T) {
	offer := assistant("a", "Here are your design variations: https://x/a.png")
	require.Nil(t, Extract(assistant("c", "variation_1 looks good"), []domain.Message{offer}).Selection)
	require.Nil(t, Extract(assistant("c", "Would you like to bring this to life?"), []domain.Message{offer}).Selection)
}

func TestExtract_IgnoresOffersAfterConfirmation(t *testing.T) {
	confirm := assistant("c", "variation_1. Would you like to bring this to life?")
	later := assistant("d", "Here are your design variations: https://x/late.png")
	require.Nil(t, Extract(confirm, []domain.Message{confirm, later}).Selection)
}

func TestExtract_UserOffersAreIgnored(t *testing.T) {
	userOffer := domain.Message{ID: "u", Role: domain.RoleUser, Content: "here are your design variations https://x/a.png"}
	confirm := assistant("c", "variation_1. Would you like to bring this to life?")
	require.Nil(t, Extract(confirm, []domain.Message{userOffer}).Selection)
}

func TestExtract_GeneratingSignals(t *testing.T) {
	cases := []struct {
		name string
		msg  domain.Message
		want *bool
	}{
		{name: "phrase", msg: assistant("1", "OK, I'll Generate a Visual for you."), want: boolPtr(true)},
		{name: "moment", msg: assistant("2", "This will take a moment."), want: boolPtr(true)},
		{name: "another", msg: assistant("3", "Generating another variation now"), want: boolPtr(true)},
		{name: "attachments", msg: domain.Message{ID: "4", Role: domain.RoleAssistant, Attachments: []domain.Attachment{{Type: "image", URL: "https://x/a.png"}}}, want: boolPtr(false)},
		{name: "plain", msg: assistant("5", "Sure thing."), want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Extract(tc.msg, nil).IsGenerating)
		})
	}
}

func TestExtract_NonAssistantIsIgnored(t *testing.T) {
	msg := domain.Message{Role: domain.RoleUser, Content: "generate a visual"}
	require.True(t, Extract(msg, nil).Empty())
}

func TestOfferURLs(t *testing.T) {
	text := "Here are your design variations:\n1. https://cdn.example.com/v/one.PNG,\n2. (https://cdn.example.com/two.gif)\n3. https://cdn.example.com/three.webp"
	require.Equal(t, []string{
		"https://cdn.example.com/v/one.PNG",
		"https://cdn.example.com/two.gif",
	}, OfferURLs(text))
}
