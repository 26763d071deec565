package auth

// SecretResolver はプロバイダー設定の参照名から秘密値を解決する。
// クライアントIDとシークレットはリクエストから受け取らず、必ずここから取得する。
type SecretResolver interface {
	Resolve(ref string) string
}

// SecretResolverFunc は関数をSecretResolverとして扱うアダプター。
type SecretResolverFunc func(ref string) string

// Resolve はf(ref)を返す。
func (f SecretResolverFunc) Resolve(ref string) string {
	return f(ref)
}
