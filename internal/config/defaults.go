package config

import (
	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/routing"
)

// DefaultVersion is the version of the built-in manifest.
const DefaultVersion = "1.0.1"

// DefaultOrigin is where the static site is served during development.
const DefaultOrigin = "http://localhost:8000"

// Default returns the built-in configuration for the studio site.
func Default() *Config {
	cfg := defaults()
	cfg.normalize()
	return cfg
}

func defaults() *Config {
	rules := routing.DefaultRules()
	opts := notify.DefaultOptions()
	return &Config{
		Version:        DefaultVersion,
		Origin:         DefaultOrigin,
		SkipWaiting:    true,
		ClaimClients:   true,
		Precache:       defaultPrecache(),
		TrustedOrigins: rules.TrustedOrigins,
		Rules: RuleTables{
			NetworkOnly:          rules.NetworkOnly,
			NetworkFirst:         rules.NetworkFirst,
			StaleWhileRevalidate: rules.StaleWhileRevalidate,
			StaticExtensions:     rules.StaticExtensions,
		},
		Sync: bgsync.DefaultEndpoints(),
		Notifications: Notifications{
			Icon:       opts.Icon,
			DefaultTag: opts.DefaultTag,
			OpenURL:    opts.OpenURL,
		},
	}
}

func defaultPrecache() []string {
	return []string{
		// pages
		"/",
		"/index.html",
		"/portfolio/pagan.html",
		"/portfolio/jimmy.html",
		"/portfolio/micah.html",
		"/portfolio/sarah.html",
		"/portfolio/kason.html",
		"/portfolio/heather.html",
		"/thank-you.html",

		// styles
		"/assets/css/main.css",
		"/assets/css/variables.css",
		"/assets/css/base.css",
		"/assets/css/layout.css",
		"/assets/css/components.css",
		"/assets/css/animations.css",
		"/assets/css/social.css",
		"/assets/css/image-optimization.css",
		"/assets/css/utilities.css",

		// scripts
		"/js/main.js",
		"/js/modules/homepage.js",
		"/js/modules/portfolio.js",
		"/js/modules/contact.js",
		"/js/modules/animations.js",
		"/js/modules/blog.js",
		"/js/modules/newsletter.js",
		"/js/modules/social-integration.js",
		"/js/modules/seo.js",
		"/js/utils/gsap-loader.js",
		"/js/utils/image-optimizer.js",
		"/js/utils/progressive-enhancement.js",
		"/js/utils/portfolio-utils.js",
		"/js/utils/instagram-api.js",
		"/js/data/artists.js",
		"/js/data/content.js",
		"/js/data/animations.js",
		"/js/config/app.js",
		"/js/config/forms.js",
		"/js/config/social.js",
		"/components/portfolio/portfolio-gallery.js",
		"/components/forms/contact-form.js",
		"/components/social/instagram-feed.js",
		"/components/social/social-links.js",

		// images
		"/images/logo.jpg",
		"/images/blkValhallalogo.jpg",
		"/images/valhalla_heropic.jpg",
		"/images/gallery/pagan.jpg",
		"/images/gallery/jimmy.jpg",
		"/images/gallery/micah.jpg",
		"/images/gallery/sarah.jpg",
		"/images/gallery/kason.jpg",
		"/images/gallery/heather.jpg",

		"/manifest.json",
		"/robots.txt",
		"/sitemap.xml",
	}
}
