package sites

import (
	"net/url"
	"testing"

	goreddit "github.com/vartanbeno/go-reddit/v2/reddit"
)

func TestRedditPostImages(t *testing.T) {
	post := &goreddit.Post{
		URL:        "https://i.redd.it/abc123.jpg",
		IsSelfPost: false,
		Body: "more pics: [front](https://i.imgur.com/front.png) and " +
			"https://i.redd.it/abc123.jpg again, plus " +
			"https://preview.redd.it/blocked.jpg and just text",
	}

	images := redditPostImages(post)
	want := []string{"https://i.redd.it/abc123.jpg", "https://i.imgur.com/front.png"}
	if len(images) != len(want) {
		t.Fatalf("expected %v, got %v", want, images)
	}
	for i := range want {
		if images[i] != want[i] {
			t.Fatalf("image %d = %q, want %q", i, images[i], want[i])
		}
	}
}

func TestRedditPostImagesIgnoresSelfPostURL(t *testing.T) {
	post := &goreddit.Post{
		URL:        "https://www.reddit.com/r/sneakermarket/comments/xyz/post/",
		IsSelfPost: true,
		Body:       "described in text only",
	}
	if images := redditPostImages(post); len(images) != 0 {
		t.Fatalf("expected no images for text-only self post, got %v", images)
	}
}

func TestIsRedditImageURL(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"https://i.redd.it/abc.jpg", true},
		{"https://I.REDD.IT/abc", true},
		{"https://i.imgur.com/abc.gifv", true},
		{"https://preview.redd.it/abc.jpg", false},
		{"https://example.com/photo.WEBP", true},
		{"https://example.com/listing/123", false},
		{"https://www.reddit.com/gallery/xyz", false},
	}
	for _, tc := range cases {
		parsed, err := url.Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got := isRedditImageURL(parsed); got != tc.want {
			t.Errorf("isRedditImageURL(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestCanonicalRedditURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/r/sneakermarket/comments/xyz/post/", "https://www.reddit.com/r/sneakermarket/comments/xyz/post/"},
		{"https://www.reddit.com/r/x/comments/1/a/", "https://www.reddit.com/r/x/comments/1/a/"},
		{"r/x/comments/1/a/", "https://www.reddit.com/r/x/comments/1/a/"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := canonicalRedditURL(tc.in); got != tc.want {
			t.Errorf("canonicalRedditURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
