package mailer

import "fmt"

// The three bodies below mirror the original email HTML (layout, color
// coding per severity, expiry callouts) adapted to this core's generic
// branding and token kinds.

func passwordResetBody(userName, resetLink string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family:-apple-system,Segoe UI,Roboto,Helvetica Neue,Arial,sans-serif;line-height:1.6;color:#333;max-width:600px;margin:0 auto;padding:20px;">
<div style="background:#fff;border-radius:8px;padding:30px;box-shadow:0 2px 4px rgba(0,0,0,0.1);">
<h1 style="color:#2563eb;text-align:center;margin:0 0 20px;font-size:24px;">Password Reset Request</h1>
<p>Hello %s,</p>
<p>We received a request to reset your password. If you didn't make this request, you can safely ignore this email.</p>
<p style="text-align:center;"><a href="%s" style="display:inline-block;background:#2563eb;color:#fff;text-decoration:none;padding:12px 30px;border-radius:6px;font-weight:500;">Reset Password</a></p>
<p>Or copy this link into your browser:</p>
<p style="word-break:break-all;"><a href="%s">%s</a></p>
<div style="background:#fef3c7;border-left:4px solid #f59e0b;padding:15px;border-radius:4px;">
<strong>Security notice:</strong>
<ul><li>This link expires in <strong>1 hour</strong></li><li>It can be used <strong>once</strong></li><li>Never share this link with anyone</li></ul>
</div>
<p style="margin-top:30px;padding-top:20px;border-top:1px solid #e5e7eb;font-size:14px;color:#6b7280;text-align:center;">This is an automated message. Please do not reply.</p>
</div>
</body>
</html>`, userName, resetLink, resetLink, resetLink)
}

func mfaResetBody(userName, resetLink string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family:-apple-system,Segoe UI,Roboto,Helvetica Neue,Arial,sans-serif;line-height:1.6;color:#333;max-width:600px;margin:0 auto;padding:20px;">
<div style="background:#fff;border-radius:8px;padding:30px;box-shadow:0 2px 4px rgba(0,0,0,0.1);">
<h1 style="color:#dc2626;text-align:center;margin:0 0 20px;font-size:24px;">MFA Reset Request</h1>
<p>Hello %s,</p>
<p>We received a request to recover access to your multi-factor-protected account. If you didn't make this request, contact your administrator immediately.</p>
<p style="text-align:center;"><a href="%s" style="display:inline-block;background:#dc2626;color:#fff;text-decoration:none;padding:12px 30px;border-radius:6px;font-weight:500;">Manage MFA Settings</a></p>
<p>Or copy this link into your browser:</p>
<p style="word-break:break-all;"><a href="%s">%s</a></p>
<div style="background:#fee2e2;border-left:4px solid #dc2626;padding:15px;border-radius:4px;">
<strong>Critical security notice:</strong>
<ul><li>This link expires in <strong>15 minutes</strong></li><li>It can be used <strong>once</strong></li><li>It grants a limited session scoped to MFA management only</li></ul>
</div>
<p style="margin-top:30px;padding-top:20px;border-top:1px solid #e5e7eb;font-size:14px;color:#6b7280;text-align:center;">This is an automated message. Please do not reply.</p>
</div>
</body>
</html>`, userName, resetLink, resetLink, resetLink)
}

func invitationBody(userName, invitedBy, setupLink string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family:-apple-system,Segoe UI,Roboto,Helvetica Neue,Arial,sans-serif;line-height:1.6;color:#333;max-width:600px;margin:0 auto;padding:20px;">
<div style="background:#fff;border-radius:8px;padding:30px;box-shadow:0 2px 4px rgba(0,0,0,0.1);">
<h1 style="color:#059669;text-align:center;margin:0 0 20px;font-size:24px;">You've Been Invited</h1>
<p>Hello %s,</p>
<p>You've been invited by <strong>%s</strong>. To complete your account setup and create your password, use the link below:</p>
<p style="text-align:center;"><a href="%s" style="display:inline-block;background:#059669;color:#fff;text-decoration:none;padding:12px 30px;border-radius:6px;font-weight:500;">Set Up Your Account</a></p>
<p>Or copy this link into your browser:</p>
<p style="word-break:break-all;"><a href="%s">%s</a></p>
<div style="background:#ecfdf5;border-left:4px solid #059669;padding:15px;border-radius:4px;">
<strong>Getting started:</strong>
<ul><li>This invitation expires in <strong>7 days</strong></li><li>You'll create a password during setup</li><li>If you didn't expect this invitation, you can ignore this email</li></ul>
</div>
<p style="margin-top:30px;padding-top:20px;border-top:1px solid #e5e7eb;font-size:14px;color:#6b7280;text-align:center;">This is an automated message. Please do not reply.</p>
</div>
</body>
</html>`, userName, invitedBy, setupLink, setupLink, setupLink)
}
