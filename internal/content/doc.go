// Package content turns (topic, platform, style) into a post.
//
// Generation walks a fixed chain: primary network provider, secondary
// network provider, then the offline Template. Generate never fails; the
// worst case is template output.
package content
