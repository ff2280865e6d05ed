package collection

// Clone deep-copies the request so a draft never aliases committed state.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = cloneKV(r.Headers)
	out.Params = cloneKV(r.Params)
	out.Assertions = cloneKV(r.Assertions)
	out.Vars = Vars{Req: cloneKV(r.Vars.Req), Res: cloneKV(r.Vars.Res)}
	out.Auth = r.Auth.Clone()
	out.Body = r.Body
	out.Body.FormURLEncoded = cloneKV(r.Body.FormURLEncoded)
	out.Body.MultipartForm = append([]MultipartField(nil), r.Body.MultipartForm...)
	out.Body.WS = append([]WSMessage(nil), r.Body.WS...)
	if r.Body.GraphQL != nil {
		gql := *r.Body.GraphQL
		out.Body.GraphQL = &gql
	}
	if r.Settings.MaxRedirects != nil {
		v := *r.Settings.MaxRedirects
		out.Settings.MaxRedirects = &v
	}
	if r.Settings.EncodeURL != nil {
		v := *r.Settings.EncodeURL
		out.Settings.EncodeURL = &v
	}
	return &out
}

func cloneKV(in []KeyValue) []KeyValue {
	if in == nil {
		return nil
	}
	return append([]KeyValue(nil), in...)
}

// BeginDraft starts editing the item. An existing draft is kept.
func (i *Item) BeginDraft() *Request {
	if i == nil || i.Request == nil {
		return nil
	}
	if i.Draft == nil {
		i.Draft = i.Request.Clone()
	}
	return i.Draft
}

// CommitDraft replaces the committed request with the draft.
func (i *Item) CommitDraft() bool {
	if i == nil || i.Draft == nil {
		return false
	}
	i.Request = i.Draft
	i.Draft = nil
	return true
}

func (i *Item) DiscardDraft() {
	if i != nil {
		i.Draft = nil
	}
}
