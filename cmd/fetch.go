package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/litehook/litehook/pkg/config"
	"github.com/litehook/litehook/pkg/tme"
)

// FetchCommand creates the fetch command
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch and print a channel's public preview page once",
		ArgsUsage: "<channel handle or URL>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one channel handle or URL")
			}
			return fetchChannel(ctx, c.Args().First())
		},
	}
}

// fetchChannel runs a single fetch+parse pass and prints what a listener
// would observe. Useful to sanity-check a channel before adding a listener.
func fetchChannel(ctx context.Context, channel string) error {
	urls := config.ExpandChannels([]string{channel})
	if len(urls) == 0 {
		return fmt.Errorf("empty channel")
	}
	channelURL := urls[0]

	client := &http.Client{Timeout: 30 * time.Second}
	html, err := tme.FetchHTML(ctx, client, channelURL)
	if err != nil {
		return err
	}

	page, err := tme.ParsePage(html)
	if err != nil {
		return err
	}
	if page == nil {
		return fmt.Errorf("invalid channel: %s", channelURL)
	}

	fmt.Printf("Channel: %s\n", page.Channel.ID)
	if page.Channel.Name != nil {
		fmt.Printf("Name: %s\n", *page.Channel.Name)
	}
	if page.Channel.Counters.Subscribers != nil {
		fmt.Printf("Subscribers: %s\n", *page.Channel.Counters.Subscribers)
	}
	fmt.Printf("Posts: %d\n", len(page.Posts))

	for _, post := range page.Posts {
		fmt.Printf("\n--- %s", post.ID)
		if post.Date != nil {
			fmt.Printf(" (%s)", *post.Date)
		}
		fmt.Println()
		if post.Text != nil {
			fmt.Println(*post.Text)
		}
		for _, media := range post.Media {
			fmt.Printf("media: %s\n", media)
		}
	}
	return nil
}
