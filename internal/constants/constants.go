package constants

// DefaultUserAgent identifies export traffic to photo hosts and relays. Some
// hosts reject requests without a browser-like agent, so the string keeps the
// Mozilla prefix.
const DefaultUserAgent = "Mozilla/5.0 (compatible; report-export/1.0)"

// PlaceholderCaption is drawn onto the substitute bitmap of a photo that
// could not be loaded.
const PlaceholderCaption = "Image not available"
