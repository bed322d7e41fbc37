// Package template renders outreach subjects and bodies from a recipient's
// snapshotted field data.
package template

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/campaignkit/outreach/internal/model"
)

// Renderer produces a deterministic subject and one randomly chosen body
// variant per render. The random source is injected so tests can pin the
// variant choice.
type Renderer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRenderer(rng *rand.Rand) *Renderer {
	return &Renderer{rng: rng}
}

// Subject is a pure function of the recipient data.
func (r *Renderer) Subject(data model.JSONMap) string {
	return fmt.Sprintf("%s doesn’t deserve %s followers.", data["Name"], data["LessSubs"])
}

// Body picks one variant uniformly at random per call. A retried send may
// pick a different variant; no variant is semantically distinguished.
func (r *Renderer) Body(data model.JSONMap) string {
	r.mu.Lock()
	i := r.rng.Intn(len(bodyVariants))
	r.mu.Unlock()
	return bodyVariants[i](data)
}

// VariantCount reports how many body variants exist.
func (r *Renderer) VariantCount() int {
	return len(bodyVariants)
}

// platformName expands platform codes to display names. Unknown codes pass
// through unchanged.
func platformName(code string) string {
	switch code {
	case "yt":
		return "Youtube"
	case "ig":
		return "Instagram"
	default:
		return code
	}
}

const portfolioLink = `<a href="https://binary-growth.vercel.app/">Binary Growth</a>`

var bodyVariants = []func(model.JSONMap) string{
	func(d model.JSONMap) string {
		primary := platformName(d["PrimaryPlatform"])
		secondary := platformName(d["SecondaryPlatform"])
		return fmt.Sprintf(`Hi %s,
I was watching your reel "%s", and I was like—this guy has such a crazy rich man lifestyle which I came to know about from your highlight on %s. It’s not just good, it’s the kind of thing that makes people stop scrolling. Naturally, I checked out your %s and no offense, but I was honestly flabbergasted that I couldn’t find you just by name. When I finally got there through the links, I noticed you haven’t really delved into editing your videos—which is exactly what I help with:
- Taking the load of managing and optimizing the account so you can focus on the bigger picture.
I see you wanna get into %s to eventually boost your business and build a community. I’ve edited and managed over 650+ videos for people on %s which lets me hear that you don’t deserve %s followers—bro, the value you have!! You should be in 100k’s easily, just need the right guy who knows how to edit and set up content for you.
So, if you’re curious, just reply to this, and I’ll share the thought—no pressure, just something I think you might find useful.
Btw here's work and people we've worked with: %s
Keep doing what you’re doing, it’s exciting to see where this could go.`,
			d["Name"], d["VideoName"], primary, secondary, secondary, secondary, d["LessSubs"], portfolioLink)
	},
	func(d model.JSONMap) string {
		primary := platformName(d["PrimaryPlatform"])
		secondary := platformName(d["SecondaryPlatform"])
		return fmt.Sprintf(`Hi %s,
I was watching your reel titled "%s", and honestly—I thought, this guy has such a crazy rich man lifestyle that I first saw on your highlight on %s. It’s seriously the kind of thing that makes people stop in their tracks. Naturally, I explored your %s and to be real, I was a bit shocked I couldn’t find you immediately by name. When I finally got there via the links, I noticed you haven’t dived into editing—which is exactly what I specialize in:
- Taking over the work of optimizing and managing your presence so you can stay focused on the big picture.
I can see you’re aiming to grow on %s to strengthen your business and build a strong audience. I’ve handled and edited 650+ videos for other creators on %s which makes me believe you don’t deserve only %s followers—you should be hitting 100k’s with ease. You just need someone who gets how to edit and build your content strategy.
If you’re interested, reply back—I’ll send over some ideas, no pressure at all.
Oh—and here’s my portfolio and examples of clients: %s
Keep up the great work—it’s exciting to see what you’ll do next.`,
			d["Name"], d["VideoName"], primary, secondary, secondary, secondary, d["LessSubs"], portfolioLink)
	},
	func(d model.JSONMap) string {
		primary := platformName(d["PrimaryPlatform"])
		secondary := platformName(d["SecondaryPlatform"])
		return fmt.Sprintf(`Hey %s,
I came across your reel "%s", and man—I was thinking, this guy lives such a crazy rich lifestyle which I first noticed on your %s highlights. It’s the sort of content that just makes people stop scrolling. Naturally, I had to look you up on %s and no kidding—I was surprised I couldn’t find you right away by name. When I finally found your profile via the links, I saw you haven’t gone deep into editing yet—which is exactly what I help people with:
- Handling all the editing and account optimization so you can focus on scaling your impact.
It’s clear you’re trying to grow on %s to boost your business and build an audience. I’ve personally edited and managed over 650 videos for other creators there, and honestly—you don’t deserve only %s followers. With the value you bring, you should easily be over 100k followers. You just need the right editor to help you stand out.
If you’re open to it, reply to this email and I’ll share my ideas—no pressure, purely value.
Here’s my work and examples: %s
Keep crushing it—really curious to see where this goes.`,
			d["Name"], d["VideoName"], primary, secondary, secondary, d["LessSubs"], portfolioLink)
	},
}
