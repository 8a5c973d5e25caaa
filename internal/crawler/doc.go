// Package crawler drives periodic crawl cycles over a fixed channel list:
// batched fetching, novelty filtering against stored posts, durable saves and
// checkpoint advancement.
package crawler
