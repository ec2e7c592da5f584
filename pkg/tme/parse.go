package tme

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/litehook/litehook/pkg/core"
)

// Selectors for the public preview page layout. These are a stable contract:
// Telegram has kept the tgme_* class names for years.
const (
	selChannelInfo = "div.tgme_channel_info"
	selPostWrap    = "div.tgme_widget_message_wrap"
	selMessage     = "div.tgme_widget_message"

	selChannelID   = "div.tgme_channel_info_header_username a"
	selChannelName = "div.tgme_channel_info_header_title span"
	selChannelImg  = "i.tgme_page_photo_image img"
	selChannelDesc = "div.tgme_channel_info_description"
	selCounters    = "div.tgme_channel_info_counters"
	selCounter     = "div.tgme_channel_info_counter"
	selCounterVal  = "span.counter_value"
	selCounterType = "span.counter_type"

	selAuthor    = "div.tgme_widget_message_author a.tgme_widget_message_owner_name span"
	selText      = "div.tgme_widget_message_text"
	selMedia     = "a.tgme_widget_message_photo_wrap"
	selReactions = "div.tgme_widget_message_reactions"
	selReaction  = "span.tgme_reaction"
	selEmoji     = "i.emoji b"
	selViews     = "span.tgme_widget_message_views"
	selDate      = "a.tgme_widget_message_date time"
)

// ParsePage parses a public preview page into channel metadata plus every
// visible post in document order. It returns (nil, nil) when the page has no
// channel-info block, which means the URL is not a valid public channel page.
// A missing optional field within a post yields a nil field, never an error.
func ParsePage(html string) (*core.Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	info := doc.Find(selChannelInfo).First()
	if info.Length() == 0 {
		return nil, nil
	}

	channel, err := parseChannel(info)
	if err != nil {
		return nil, err
	}

	page := &core.Page{Channel: channel}
	var postErr error
	doc.Find(selPostWrap).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		post, err := parsePost(sel)
		if err != nil {
			postErr = err
			return false
		}
		page.Posts = append(page.Posts, post)
		return true
	})
	if postErr != nil {
		return nil, postErr
	}
	return page, nil
}

func parseChannel(info *goquery.Selection) (core.Channel, error) {
	var channel core.Channel

	idSel := info.Find(selChannelID).First()
	if idSel.Length() == 0 {
		return channel, fmt.Errorf("channel id not found")
	}
	channel.ID = strings.ReplaceAll(idSel.Text(), "@", "")

	channel.Counters = parseCounters(info.Find(selCounters).First())

	if name := info.Find(selChannelName).First(); name.Length() > 0 {
		channel.Name = stringPtr(name.Text())
	}
	if img := info.Find(selChannelImg).First(); img.Length() > 0 {
		if src, ok := img.Attr("src"); ok {
			channel.Image = &src
		}
	}
	if desc := info.Find(selChannelDesc).First(); desc.Length() > 0 {
		md, err := toMarkdown(desc)
		if err != nil {
			return channel, fmt.Errorf("converting channel description: %w", err)
		}
		channel.Description = &md
	}

	return channel, nil
}

func parseCounters(container *goquery.Selection) core.Counters {
	var counters core.Counters
	container.Find(selCounter).Each(func(_ int, block *goquery.Selection) {
		value := block.Find(selCounterVal).First().Text()
		kind := block.Find(selCounterType).First().Text()

		// The page renders singular or plural depending on the count.
		switch kind {
		case "subscriber", "subscribers":
			counters.Subscribers = &value
		case "photo", "photos":
			counters.Photos = &value
		case "video", "videos":
			counters.Videos = &value
		case "link", "links":
			counters.Links = &value
		}
	})
	return counters
}

func parsePost(wrap *goquery.Selection) (core.Post, error) {
	var post core.Post

	msg := wrap.Find(selMessage).First()
	if msg.Length() == 0 {
		return post, fmt.Errorf("message block not found")
	}
	id, ok := msg.Attr("data-post")
	if !ok {
		return post, fmt.Errorf("post id not found")
	}
	post.ID = id

	if author := wrap.Find(selAuthor).First(); author.Length() > 0 {
		post.Author = stringPtr(author.Text())
	}
	if text := wrap.Find(selText).First(); text.Length() > 0 {
		md, err := toMarkdown(text)
		if err != nil {
			return post, fmt.Errorf("converting text of post %s: %w", id, err)
		}
		post.Text = &md
	}

	wrap.Find(selMedia).Each(func(_ int, sel *goquery.Selection) {
		if url := parseMediaURL(sel); url != "" {
			post.Media = append(post.Media, url)
		}
	})

	if reactions := wrap.Find(selReactions).First(); reactions.Length() > 0 {
		post.Reactions = parseReactions(reactions)
	}
	if views := wrap.Find(selViews).First(); views.Length() > 0 {
		post.Views = stringPtr(views.Text())
	}
	if date := wrap.Find(selDate).First(); date.Length() > 0 {
		if dt, ok := date.Attr("datetime"); ok {
			post.Date = &dt
		}
	}

	return post, nil
}

// parseMediaURL extracts the photo URL from the wrapper's inline style,
// which carries it as background-image: url('...').
func parseMediaURL(sel *goquery.Selection) string {
	style, ok := sel.Attr("style")
	if !ok {
		return ""
	}
	start := strings.Index(style, "url('")
	if start < 0 {
		return ""
	}
	rest := style[start+len("url('"):]
	end := strings.Index(rest, "')")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func parseReactions(container *goquery.Selection) []core.Reaction {
	var reactions []core.Reaction
	container.Find(selReaction).Each(func(_ int, sel *goquery.Selection) {
		emoji := sel.Find(selEmoji).First().Text()
		if emoji == "" {
			emoji = "unknown"
		}
		// The reaction text is "<emoji> <count>"; strip the glyph and trim.
		count := strings.TrimSpace(strings.ReplaceAll(sel.Text(), emoji, ""))
		reactions = append(reactions, core.Reaction{Emoji: &emoji, Count: &count})
	})
	return reactions
}

func toMarkdown(sel *goquery.Selection) (string, error) {
	inner, err := sel.Html()
	if err != nil {
		return "", err
	}
	return htmltomarkdown.ConvertString(inner)
}

func stringPtr(s string) *string {
	return &s
}
